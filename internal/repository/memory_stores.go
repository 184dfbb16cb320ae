package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/pkg/util"
)

// MemoryBarStore keeps base bars in memory and aggregates higher timeframes on read.
type MemoryBarStore struct {
	mu   sync.RWMutex
	bars map[string]map[int64]models.Bar
	now  func() time.Time
}

func NewMemoryBarStore(now func() time.Time) *MemoryBarStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryBarStore{bars: make(map[string]map[int64]models.Bar), now: now}
}

func (s *MemoryBarStore) UpsertBars(_ context.Context, bars []models.Bar) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		m, ok := s.bars[b.Symbol]
		if !ok {
			m = make(map[int64]models.Bar)
			s.bars[b.Symbol] = m
		}
		b.Timestamp = b.Timestamp.UTC().Truncate(time.Minute)
		b.Count = 1
		m[b.Timestamp.Unix()] = b
	}
	return len(bars), nil
}

func (s *MemoryBarStore) GetBars(_ context.Context, symbol string, tf domrepo.Timeframe, since *time.Time) ([]models.Bar, error) {
	s.mu.RLock()
	base := make([]models.Bar, 0, len(s.bars[symbol]))
	for _, b := range s.bars[symbol] {
		base = append(base, b)
	}
	s.mu.RUnlock()

	sort.Slice(base, func(i, j int) bool { return base[i].Timestamp.Before(base[j].Timestamp) })
	out := Aggregate(base, tf)
	if since != nil {
		i := sort.Search(len(out), func(i int) bool { return !out[i].Timestamp.Before(*since) })
		out = out[i:]
	}
	return out, nil
}

func (s *MemoryBarStore) LatestBarAge(_ context.Context, symbol string, _ domrepo.Timeframe) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest time.Time
	for _, b := range s.bars[symbol] {
		if b.Timestamp.After(newest) {
			newest = b.Timestamp
		}
	}
	if newest.IsZero() {
		return 0, domrepo.ErrNoBars
	}
	return s.now().Sub(newest), nil
}

func (s *MemoryBarStore) Health(context.Context) error { return nil }

// Aggregate folds ordered base bars into tf buckets. Count holds the number of base bars per bucket.
func Aggregate(base []models.Bar, tf domrepo.Timeframe) []models.Bar {
	d := tf.Duration()
	if d <= time.Minute {
		out := make([]models.Bar, len(base))
		copy(out, base)
		return out
	}
	var out []models.Bar
	for _, b := range base {
		bucket := b.Timestamp.Truncate(d)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(bucket) {
			cur := &out[n-1]
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume += b.Volume
			cur.Count++
			continue
		}
		agg := b
		agg.Timestamp = bucket
		agg.Count = 1
		out = append(out, agg)
	}
	return out
}

// MemoryEngineStore is an in-process EngineStateStore.
type MemoryEngineStore struct {
	mu    sync.Mutex
	days  map[string]*models.EngineDailyState
	fills map[string]models.ExecutionFill
}

func NewMemoryEngineStore() *MemoryEngineStore {
	return &MemoryEngineStore{
		days:  make(map[string]*models.EngineDailyState),
		fills: make(map[string]models.ExecutionFill),
	}
}

func dayKey(engine string, day time.Time) string {
	return engine + "|" + util.FormatDay(day)
}

func (s *MemoryEngineStore) GetOrCreate(_ context.Context, engineKey, version string, day time.Time) (*models.EngineDailyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.getOrCreateLocked(engineKey, version, day)
	return &cp, nil
}

func (s *MemoryEngineStore) getOrCreateLocked(engineKey, version string, day time.Time) *models.EngineDailyState {
	k := dayKey(engineKey, day)
	st, ok := s.days[k]
	if !ok {
		st = models.NewEngineDailyState(engineKey, version, day)
		st.UpdatedAt = time.Now()
		s.days[k] = st
	}
	return st
}

// Save writes the decision fields only; a snapshot older than the last fill gets ErrConflict.
func (s *MemoryEngineStore) Save(_ context.Context, st *models.EngineDailyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.days[dayKey(st.EngineKey, st.TradingDay)]
	if !ok || cur.TradesCount != st.TradesCount {
		return fmt.Errorf("save engine state %s: %w", st.EngineKey, domrepo.ErrConflict)
	}
	cur.State = st.State
	cur.ThrottleFactor = st.ThrottleFactor
	cur.HaltReason = st.HaltReason
	cur.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryEngineStore) ApplyFill(_ context.Context, fill models.ExecutionFill, version string, day time.Time) (*models.EngineDailyState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(fill.EngineKey, version, day)
	if _, dup := s.fills[fill.ClientOrderID]; dup {
		cp := *st
		return &cp, false, nil
	}
	s.fills[fill.ClientOrderID] = fill
	st.DailyPnL += fill.RealizedPnL
	st.TradesCount++
	st.UpdatedAt = time.Now()
	cp := *st
	return &cp, true, nil
}

// MemoryRunLogStore keeps the most recent run logs.
type MemoryRunLogStore struct {
	mu   sync.Mutex
	runs []models.RunLog
	keep int
}

func NewMemoryRunLogStore(keep int) *MemoryRunLogStore {
	if keep <= 0 {
		keep = 500
	}
	return &MemoryRunLogStore{keep: keep}
}

func (s *MemoryRunLogStore) Save(_ context.Context, run *models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	if len(s.runs) > s.keep {
		s.runs = s.runs[len(s.runs)-s.keep:]
	}
	return nil
}

func (s *MemoryRunLogStore) Recent(_ context.Context, job models.JobName, limit int) ([]models.RunLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RunLog
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if job == "" || s.runs[i].Job == job {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

// MemoryBlockStore holds manual blocks in memory.
type MemoryBlockStore struct {
	mu     sync.RWMutex
	blocks map[string]models.ManualBlock
}

func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{blocks: make(map[string]models.ManualBlock)}
}

func (s *MemoryBlockStore) SetBlock(_ context.Context, b models.ManualBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[strings.ToUpper(b.Symbol)] = b
	return nil
}

func (s *MemoryBlockStore) ActiveBlock(_ context.Context, symbol string, now time.Time) (*models.ManualBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[strings.ToUpper(symbol)]
	if !ok || !now.Before(b.Until) {
		return nil, nil
	}
	return &b, nil
}
