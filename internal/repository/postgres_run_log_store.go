package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"SignalForge/internal/domain/models"
	pkgpg "SignalForge/pkg/postgres"
)

// PGRunLogStore persists run logs with per-symbol outcomes as JSONB.
type PGRunLogStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPGRunLogStore(pg *pkgpg.Client, timeout time.Duration) *PGRunLogStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PGRunLogStore{db: pg.DB(), timeout: timeout}
}

type runLogRow struct {
	models.RunLog
	OutcomesJSON []byte `db:"outcomes"`
}

func (s *PGRunLogStore) Save(ctx context.Context, run *models.RunLog) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcomes := run.Outcomes
	if outcomes == nil {
		outcomes = []models.SymbolOutcome{}
	}
	b, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_logs (id, job, started_at, finished_at, duration_ms, processed, skipped, failed, success, outcomes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, string(run.Job), run.StartedAt, run.FinishedAt, run.DurationMS,
		run.Processed, run.Skipped, run.Failed, run.Success, b)
	if err != nil {
		return fmt.Errorf("save run log: %w", err)
	}
	return nil
}

func (s *PGRunLogStore) Recent(ctx context.Context, job models.JobName, limit int) ([]models.RunLog, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}

	var rows []runLogRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, job, started_at, finished_at, duration_ms, processed, skipped, failed, success, outcomes
		FROM run_logs
		WHERE ($1::text = '' OR job = $1)
		ORDER BY started_at DESC
		LIMIT $2`, string(job), limit)
	if err != nil {
		return nil, fmt.Errorf("recent run logs: %w", err)
	}

	out := make([]models.RunLog, 0, len(rows))
	for _, r := range rows {
		run := r.RunLog
		if len(r.OutcomesJSON) > 0 {
			if err := json.Unmarshal(r.OutcomesJSON, &run.Outcomes); err != nil {
				return nil, fmt.Errorf("decode outcomes for run %s: %w", run.ID, err)
			}
		}
		out = append(out, run)
	}
	return out, nil
}
