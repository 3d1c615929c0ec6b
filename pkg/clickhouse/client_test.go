package clickhouse

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cfg := defaultConfig()
	for _, o := range []ClientOption{
		WithHost("ch.internal"),
		WithDatabase("engine"),
		WithCredentials("writer", "p@ss:word"),
		WithMaxExecutionTime(90 * time.Second),
		WithAsyncInsert(true, true),
	} {
		o(cfg)
	}

	u, err := url.Parse(buildDSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.internal:9000", u.Host)
	assert.Equal(t, "/engine", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss:word", pw)

	q := u.Query()
	assert.Equal(t, "90", q.Get("max_execution_time"))
	assert.Equal(t, "1", q.Get("async_insert"))
	assert.Equal(t, "1", q.Get("wait_for_async_insert"))
	assert.Equal(t, "5s", q.Get("dial_timeout"))
}

func TestBuildDSNOverHTTP(t *testing.T) {
	cfg := defaultConfig()
	WithHost("localhost")(cfg)
	WithHTTP(true)(cfg)
	WithPort(8123)(cfg)
	WithTimeouts(0, 0, time.Minute)(cfg)

	u, err := url.Parse(buildDSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "localhost:8123", u.Host)
	assert.Equal(t, "/"+DefaultDatabase, u.Path)
	assert.Empty(t, u.Query().Get("async_insert"))
	assert.Equal(t, time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
}

func TestExpandSchema(t *testing.T) {
	stmts := []string{
		"CREATE DATABASE IF NOT EXISTS {db}",
		"CREATE TABLE IF NOT EXISTS {db}.ticks (ts DateTime) ENGINE = MergeTree ORDER BY ts",
	}
	got := ExpandSchema(stmts, "engine")
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS engine", got[0])
	assert.Contains(t, got[1], "engine.ticks")
	assert.Contains(t, stmts[0], "{db}")

	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS tradefusion", ExpandSchema(stmts[:1], "")[0])
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(WithDatabase("engine"))
	assert.EqualError(t, err, "host is required")
}
