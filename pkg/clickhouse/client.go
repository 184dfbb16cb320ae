package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

// Client owns the database/sql pool opened through the clickhouse-go driver.
type Client struct {
	db           *sql.DB
	writeTimeout time.Duration
}

func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Host == "" {
		return nil, errors.New("clickhouse: host is required")
	}

	db := ch.OpenDB(driverOptions(cfg))
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{db: db, writeTimeout: cfg.WriteTimeout}, nil
}

func driverOptions(cfg *ClientConfig) *ch.Options {
	protocol := ch.Native
	if cfg.UseHTTP {
		protocol = ch.HTTP
	}
	return &ch.Options{
		Addr:     []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Protocol: protocol,
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		Settings:    settings(cfg),
	}
}

// settings maps the config onto per-query server settings.
func settings(cfg *ClientConfig) ch.Settings {
	s := ch.Settings{}
	if cfg.MaxExecTime > 0 {
		s["max_execution_time"] = int(cfg.MaxExecTime / time.Second)
	}
	if cfg.AsyncInsert {
		s["async_insert"] = 1
		if cfg.WaitForAsync {
			s["wait_for_async_insert"] = 1
		} else {
			s["wait_for_async_insert"] = 0
		}
	}
	return s
}

// NewFromDB wraps an open pool, e.g. a sqlmock in tests.
func NewFromDB(db *sql.DB) *Client {
	return &Client{db: db, writeTimeout: defaultConfig().WriteTimeout}
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Health(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema runs idempotent DDL in order, each under the write deadline. Blank statements are skipped.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
		_, err := c.db.ExecContext(sctx, stmt)
		cancel()
		if err != nil {
			return fmt.Errorf("clickhouse schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
