package repository

// PostgresSchema creates the signal database tables. Statements are idempotent.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id                     BIGSERIAL PRIMARY KEY,
		symbol                 TEXT        NOT NULL,
		timeframe              TEXT        NOT NULL,
		signal_bar_ts          TIMESTAMPTZ NOT NULL,
		status                 TEXT        NOT NULL CHECK (status IN ('watchlist','active','filled','invalidated','expired')),
		signal_type            TEXT        NOT NULL CHECK (signal_type IN ('buy','sell','neutral')),
		confidence_score       INTEGER     NOT NULL CHECK (confidence_score BETWEEN 0 AND 100),
		entry_price            DOUBLE PRECISION NOT NULL,
		zone_high              DOUBLE PRECISION NOT NULL,
		zone_low               DOUBLE PRECISION NOT NULL,
		bos_price              DOUBLE PRECISION NOT NULL,
		trade_gate_allowed     BOOLEAN     NOT NULL DEFAULT FALSE,
		trade_gate_reason      TEXT        NOT NULL DEFAULT '',
		blocked_until          TIMESTAMPTZ,
		ai_enriched            BOOLEAN     NOT NULL DEFAULT FALSE,
		narrative              TEXT        NOT NULL DEFAULT '',
		data_freshness_minutes INTEGER     NOT NULL DEFAULT 0,
		volatility_state       TEXT        NOT NULL DEFAULT 'unknown',
		client_order_id        TEXT        NOT NULL DEFAULT '',
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (symbol, timeframe, signal_bar_ts)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS signals_one_active
		ON signals (symbol, timeframe) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS signals_status_bar_ts ON signals (status, signal_bar_ts)`,
	`CREATE TABLE IF NOT EXISTS engine_daily_state (
		engine_key      TEXT        NOT NULL,
		engine_version  TEXT        NOT NULL,
		trading_day     DATE        NOT NULL,
		state           TEXT        NOT NULL,
		daily_pnl       DOUBLE PRECISION NOT NULL DEFAULT 0,
		trades_count    INTEGER     NOT NULL DEFAULT 0,
		throttle_factor DOUBLE PRECISION NOT NULL DEFAULT 1,
		halt_reason     TEXT        NOT NULL DEFAULT '',
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (engine_key, trading_day)
	)`,
	`CREATE TABLE IF NOT EXISTS engine_fills (
		client_order_id TEXT PRIMARY KEY,
		engine_key      TEXT        NOT NULL,
		symbol          TEXT        NOT NULL,
		realized_pnl    DOUBLE PRECISION NOT NULL,
		closed_at       TIMESTAMPTZ NOT NULL,
		trading_day     DATE        NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_logs (
		id          TEXT PRIMARY KEY,
		job         TEXT        NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT      NOT NULL,
		processed   INTEGER     NOT NULL,
		skipped     INTEGER     NOT NULL,
		failed      INTEGER     NOT NULL,
		success     BOOLEAN     NOT NULL,
		outcomes    JSONB       NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS run_logs_job_started ON run_logs (job, started_at DESC)`,
}

// ClickHouseSchema creates the base bar table. ReplacingMergeTree keeps the latest version per
// (symbol, ts) so re-ingesting a minute is an upsert.
var ClickHouseSchema = []string{
	`CREATE DATABASE IF NOT EXISTS signalforge`,
	`CREATE TABLE IF NOT EXISTS signalforge.bars_1m (
		symbol     LowCardinality(String),
		ts         DateTime('UTC'),
		open       Float64,
		high       Float64,
		low        Float64,
		close      Float64,
		volume     Float64,
		ingested_at DateTime64(3, 'UTC') DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree(ingested_at)
	PARTITION BY toYYYYMM(ts)
	ORDER BY (symbol, ts)`,
}
