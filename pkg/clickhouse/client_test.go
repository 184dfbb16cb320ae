package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("ch.internal"),
		WithPort(8123),
		WithHTTP(true),
		WithDatabase("signalforge"),
		WithCredentials("svc", "secret"),
		WithAsyncInsert(true, false),
		WithMaxExecutionTime(90 * time.Second),
		WithTimeouts(0, 30*time.Second, 0),
	} {
		opt(cfg)
	}

	o := driverOptions(cfg)
	assert.Equal(t, []string{"ch.internal:8123"}, o.Addr)
	assert.Equal(t, ch.HTTP, o.Protocol)
	assert.Equal(t, "signalforge", o.Auth.Database)
	assert.Equal(t, "svc", o.Auth.Username)
	assert.Equal(t, 5*time.Second, o.DialTimeout, "zero keeps default")
	assert.Equal(t, 30*time.Second, o.ReadTimeout)
	assert.Equal(t, 90, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 0, o.Settings["wait_for_async_insert"])
}

func TestSettings_Empty(t *testing.T) {
	assert.Empty(t, settings(defaultConfig()))
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)
}

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	c := NewFromDB(db)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS bars").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE bars").WillReturnError(errors.New("syntax error"))

	err = c.InitSchema(context.Background(), []string{
		"CREATE TABLE IF NOT EXISTS bars (symbol String) ENGINE = MergeTree ORDER BY symbol",
		"  ",
		"ALTER TABLE bars ADD COLUMN x Int8",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 3")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectClose()
	require.NoError(t, c.Close())
}
