package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}

func TestShutdown_RunsStepsInOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var order []string
	for _, name := range []string{"scheduler", "workers", "database"} {
		name := name
		sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	sm.RegisterShutdownFunc("nil step", nil)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"scheduler", "workers", "database"}, order)
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	ran := false
	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error {
		return errors.New("close failed")
	})
	sm.RegisterShutdownFunc("database", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: close failed")
	assert.True(t, ran, "later steps still run after a failure")
}

func TestShutdown_StopsHTTPServer(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Start()
	defer srv.Close()

	sm := NewShutdownManager(NopLogger(), srv.Config, time.Second)
	require.NoError(t, sm.Shutdown(context.Background()))

	_, err := http.Get(srv.URL)
	assert.Error(t, err)
}

func TestShutdown_TimeoutSkipsRemainingSteps(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, 20*time.Millisecond)

	skipped := true
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.RegisterShutdownFunc("after", func(ctx context.Context) error {
		skipped = false
		return nil
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, skipped)
}

func TestWaitForShutdown_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	called := make(chan struct{})
	sm.RegisterShutdownFunc("marker", func(ctx context.Context) error {
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	select {
	case <-called:
	default:
		t.Fatal("shutdown step did not run")
	}
}
