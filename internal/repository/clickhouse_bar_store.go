package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	pkgch "SignalForge/pkg/clickhouse"
	applogger "SignalForge/pkg/logger"
)

const barsTable = "signalforge.bars_1m"

// CHBarStore implements BarStore backed by ClickHouse. Only 1m bars are stored; higher
// timeframes are aggregated in SQL on read.
type CHBarStore struct {
	db  *sql.DB
	l   *applogger.Logger
	now func() time.Time
}

func NewCHBarStore(ch *pkgch.Client) *CHBarStore {
	return &CHBarStore{db: ch.DB(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *CHBarStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHBarStore) UpsertBars(ctx context.Context, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	// Multi-row VALUES in chunks. ReplacingMergeTree collapses re-ingested minutes.
	const chunkSize = 2000
	written := 0
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			if b.Symbol == "" || b.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, b.Symbol, b.Timestamp.UTC().Truncate(time.Minute), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, ts, open, high, low, close, volume) VALUES %s", barsTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse upsert_bars error",
					applogger.Int("rows", len(values)),
					applogger.Error(err),
				)
			}
			return written, fmt.Errorf("upsert bars: %w", err)
		}
		written += len(values)
	}
	return written, nil
}

func (s *CHBarStore) GetBars(ctx context.Context, symbol string, tf domrepo.Timeframe, since *time.Time) ([]models.Bar, error) {
	start := time.Now()
	q, args, err := barsQuery(symbol, tf, since)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse get_bars query error",
				applogger.String("symbol", symbol),
				applogger.String("tf", string(tf)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, 512)
	for rows.Next() {
		var (
			b   models.Bar
			cnt uint64
		)
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &cnt); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		b.Count = int(cnt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse get_bars ok",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

// barsQuery builds the read for tf. FINAL resolves duplicates that have not been merged yet.
func barsQuery(symbol string, tf domrepo.Timeframe, since *time.Time) (string, []interface{}, error) {
	args := []interface{}{symbol}
	if tf == domrepo.BaseTimeframe() {
		q := `SELECT symbol, ts, open, high, low, close, volume, toUInt64(1) AS cnt
			FROM ` + barsTable + ` FINAL
			WHERE symbol = ?`
		if since != nil {
			q += ` AND ts >= ?`
			args = append(args, since.UTC())
		}
		return q + ` ORDER BY ts ASC`, args, nil
	}

	interval, err := intervalFor(tf)
	if err != nil {
		return "", nil, err
	}
	q := fmt.Sprintf(`SELECT symbol, toStartOfInterval(ts, %s) AS bucket,
			argMin(open, ts), max(high), min(low), argMax(close, ts), sum(volume), count() AS cnt
		FROM %s FINAL
		WHERE symbol = ?
		GROUP BY symbol, bucket`, interval, barsTable)
	if since != nil {
		q += ` HAVING bucket >= ?`
		args = append(args, since.UTC())
	}
	return q + ` ORDER BY bucket ASC`, args, nil
}

func intervalFor(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF5m:
		return "INTERVAL 5 MINUTE", nil
	case domrepo.TF15m:
		return "INTERVAL 15 MINUTE", nil
	case domrepo.TF1h:
		return "INTERVAL 1 HOUR", nil
	case domrepo.TF4h:
		return "INTERVAL 4 HOUR", nil
	case domrepo.TF1d:
		return "INTERVAL 1 DAY", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

// LatestBarAge measures freshness on the base table regardless of tf.
func (s *CHBarStore) LatestBarAge(ctx context.Context, symbol string, _ domrepo.Timeframe) (time.Duration, error) {
	var (
		newest time.Time
		n      uint64
	)
	err := s.db.QueryRowContext(ctx, `SELECT max(ts), count() FROM `+barsTable+` WHERE symbol = ?`, symbol).Scan(&newest, &n)
	if err != nil {
		return 0, fmt.Errorf("latest bar: %w", err)
	}
	if n == 0 {
		return 0, domrepo.ErrNoBars
	}
	return s.now().Sub(newest), nil
}

func (s *CHBarStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
