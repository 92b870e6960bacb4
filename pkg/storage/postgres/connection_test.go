package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplica_FallsBackToPrimary(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()

	cm := NewConnectionManagerFromDB(primary)
	assert.Same(t, primary, cm.Replica())
	assert.Same(t, primary, cm.Primary())
}

func TestReplica_RoundRobin(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	r1, _, err := sqlmock.New()
	require.NoError(t, err)
	r2, _, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	defer r1.Close()
	defer r2.Close()

	cm := NewConnectionManagerFromDB(primary, r1, r2)

	first := cm.Replica()
	second := cm.Replica()
	third := cm.Replica()
	assert.NotSame(t, first, second)
	assert.Same(t, first, third)
}

func TestHealthCheck(t *testing.T) {
	t.Run("primary down", func(t *testing.T) {
		primary, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primary.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(primary)
		err = cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pmock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		replica, rmock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primary.Close()
		defer replica.Close()

		pmock.ExpectPing()
		rmock.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := NewConnectionManagerFromDB(primary, replica)
		err = cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "replicas unhealthy")
	})

	t.Run("healthy", func(t *testing.T) {
		primary, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primary.Close()

		mock.ExpectPing()

		cm := NewConnectionManagerFromDB(primary)
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})
}

func TestClose(t *testing.T) {
	primary, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	cm := NewConnectionManagerFromDB(primary)
	require.NoError(t, cm.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisClient(t *testing.T) {
	t.Run("disabled without URL", func(t *testing.T) {
		client, err := NewRedisClient(context.Background(), config.RedisConfig{})
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)

		client, err := NewRedisClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 4})
		require.NoError(t, err)
		require.NotNil(t, client)
		defer client.Close()

		require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(context.Background(), config.RedisConfig{URL: "://bad"})
		assert.Error(t, err)
	})
}
