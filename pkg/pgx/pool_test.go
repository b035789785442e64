package pgx

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/pumprelay/internal/testutil/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoolConfig(t *testing.T) {
	t.Run("options applied", func(t *testing.T) {
		cfg, err := ParsePoolConfig("postgres://relay:secret@db:5432/pump_monitoring", PoolOptions{
			MaxConns:        8,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
		})
		require.NoError(t, err)
		assert.Equal(t, int32(8), cfg.MaxConns)
		assert.Equal(t, int32(2), cfg.MinConns)
		assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
		assert.Equal(t, "db", cfg.ConnConfig.Host)
		assert.Equal(t, "pump_monitoring", cfg.ConnConfig.Database)
	})

	t.Run("min conns capped by max", func(t *testing.T) {
		cfg, err := ParsePoolConfig("postgres://db/pumps", PoolOptions{MaxConns: 2, MinConns: 5})
		require.NoError(t, err)
		assert.Equal(t, int32(2), cfg.MinConns)
	})

	t.Run("zero options keep connection string values", func(t *testing.T) {
		cfg, err := ParsePoolConfig("postgres://db/pumps?pool_max_conns=3", PoolOptions{})
		require.NoError(t, err)
		assert.Equal(t, int32(3), cfg.MaxConns)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParsePoolConfig("", PoolOptions{})
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParsePoolConfig("postgres://db:notaport/pumps", PoolOptions{})
		assert.Error(t, err)
	})
}

func TestNewPoolUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewPool(ctx, "postgres://relay@127.0.0.1:1/pumps?connect_timeout=1", PoolOptions{PingMaxElapsed: 300 * time.Millisecond})
	assert.Error(t, err)
}

func TestNewPool(t *testing.T) {
	dsn := pgtest.ConnString(t)
	ctx := context.Background()

	pool, err := NewPool(ctx, dsn, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	defer pool.Close()

	var one int
	require.NoError(t, pool.QueryRow(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
	assert.Equal(t, int32(4), pool.Config().MaxConns)
}
