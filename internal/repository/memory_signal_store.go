package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
)

// MemorySignalStore is an in-process SignalStore. A single mutex makes Promote atomic and keeps at
// most one active record per (symbol, timeframe).
type MemorySignalStore struct {
	mu     sync.Mutex
	nextID int64
	byKey  map[models.SignalKey]*models.SignalRecord
	now    func() time.Time
}

func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{byKey: make(map[models.SignalKey]*models.SignalRecord), now: time.Now}
}

func normKey(k models.SignalKey) models.SignalKey {
	k.SignalBarTS = k.SignalBarTS.UTC()
	return k
}

func (s *MemorySignalStore) Upsert(_ context.Context, rec *models.SignalRecord) (*models.SignalRecord, *models.SignalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, prev := s.upsertLocked(rec)
	return saved, prev, nil
}

func (s *MemorySignalStore) Promote(_ context.Context, rec *models.SignalRecord) (*models.SignalRecord, []models.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normKey(rec.Key())
	if cur, ok := s.byKey[key]; ok && cur.Status.IsTerminal() {
		cp := *cur
		return &cp, nil, nil
	}

	var superseded []models.SignalRecord
	for k, r := range s.byKey {
		if k == key || r.Symbol != rec.Symbol || r.Timeframe != rec.Timeframe || r.Status != models.SignalActive {
			continue
		}
		r.Status = models.SignalInvalidated
		r.UpdatedAt = s.now()
		superseded = append(superseded, *r)
	}
	sort.Slice(superseded, func(i, j int) bool { return superseded[i].ID < superseded[j].ID })

	saved, _ := s.upsertLocked(rec)
	return saved, superseded, nil
}

func (s *MemorySignalStore) upsertLocked(rec *models.SignalRecord) (*models.SignalRecord, *models.SignalStatus) {
	key := normKey(rec.Key())
	now := s.now()

	cur, ok := s.byKey[key]
	if !ok {
		s.nextID++
		cp := *rec
		cp.ID = s.nextID
		cp.SignalBarTS = key.SignalBarTS
		cp.CreatedAt, cp.UpdatedAt = now, now
		s.byKey[key] = &cp
		out := cp
		return &out, nil
	}

	prev := cur.Status
	if cur.Status.IsTerminal() {
		out := *cur
		return &out, &prev
	}

	next := *rec
	next.ID, next.CreatedAt, next.UpdatedAt = cur.ID, cur.CreatedAt, now
	next.SignalBarTS = key.SignalBarTS
	next.ClientOrderID = cur.ClientOrderID
	if cur.Status == models.SignalActive && rec.Status == models.SignalWatchlist {
		next.Status = models.SignalActive
	}
	*cur = next
	out := *cur
	return &out, &prev
}

func (s *MemorySignalStore) Get(_ context.Context, key models.SignalKey) (*models.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byKey[normKey(key)]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemorySignalStore) ListActive(_ context.Context, symbol, timeframe string) ([]models.SignalRecord, error) {
	return s.filter(func(r *models.SignalRecord) bool {
		return r.Symbol == symbol && r.Timeframe == timeframe && r.Status == models.SignalActive
	}), nil
}

func (s *MemorySignalStore) ListExecutable(_ context.Context) ([]models.SignalRecord, error) {
	return s.filter(func(r *models.SignalRecord) bool { return r.Executable() }), nil
}

func (s *MemorySignalStore) List(_ context.Context, f models.SignalFilter) ([]models.SignalRecord, error) {
	out := s.filter(func(r *models.SignalRecord) bool {
		return (f.Symbol == "" || r.Symbol == f.Symbol) &&
			(f.Timeframe == "" || r.Timeframe == f.Timeframe) &&
			(!f.Status.Valid() || r.Status == f.Status)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SignalBarTS.After(out[j].SignalBarTS) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemorySignalStore) UpdateGate(_ context.Context, id int64, allowed bool, reason string, blockedUntil *time.Time) error {
	return s.mutate(id, func(r *models.SignalRecord) error {
		r.TradeGateAllowed, r.TradeGateReason, r.BlockedUntil = allowed, reason, blockedUntil
		return nil
	})
}

func (s *MemorySignalStore) MarkFilled(_ context.Context, id int64, clientOrderID string) error {
	return s.mutate(id, func(r *models.SignalRecord) error {
		if r.Status != models.SignalActive {
			return domrepo.ErrConflict
		}
		r.Status, r.ClientOrderID = models.SignalFilled, clientOrderID
		return nil
	})
}

func (s *MemorySignalStore) Invalidate(_ context.Context, id int64) error {
	return s.mutate(id, func(r *models.SignalRecord) error {
		if r.Status.IsTerminal() {
			return domrepo.ErrConflict
		}
		r.Status = models.SignalInvalidated
		return nil
	})
}

func (s *MemorySignalStore) ExpireBefore(_ context.Context, cutoff time.Time) ([]models.SignalTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SignalTransition
	for _, r := range s.byKey {
		if r.Status.IsTerminal() || !r.SignalBarTS.Before(cutoff) {
			continue
		}
		prev := r.Status
		r.Status = models.SignalExpired
		r.UpdatedAt = s.now()
		out = append(out, models.SignalTransition{Signal: *r, PrevStatus: prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signal.ID < out[j].Signal.ID })
	return out, nil
}

func (s *MemorySignalStore) mutate(id int64, fn func(r *models.SignalRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byKey {
		if r.ID != id {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = s.now()
		return nil
	}
	return domrepo.ErrNotFound
}

func (s *MemorySignalStore) filter(keep func(r *models.SignalRecord) bool) []models.SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SignalRecord, 0)
	for _, r := range s.byKey {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
