package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, handler http.HandlerFunc) (int, body) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var b body
	require.NoError(t, json.NewDecoder(w.Body).Decode(&b))
	return w.Code, b
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestLiveEndpoint_Thresholds(t *testing.T) {
	for _, tt := range []struct {
		name     string
		runs     int
		wantCode int
	}{
		{name: "NoRuns", runs: 0, wantCode: http.StatusOK},
		{name: "BelowThreshold", runs: 2, wantCode: http.StatusOK},
		{name: "AtThreshold", runs: 3, wantCode: http.StatusServiceUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := New(zap.NewNop())
			h.AddLiveness("db", time.Second, failing("connection refused"))
			for range tt.runs {
				h.checks[0].run(context.Background(), h.lg)
			}

			code, b := get(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "ok", b.Status)
				return
			}
			assert.Equal(t, "unhealthy", b.Status)
			assert.Equal(t, "connection refused", b.Checks["db"])
		})
	}
}

func TestCheck_Recovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	h := New(zap.NewNop())
	h.Add(Check{
		Name:             "redis",
		Kind:             Readiness,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	})
	h.SetReady(true)
	c := h.checks[0]

	c.run(context.Background(), h.lg)
	assert.False(t, h.IsReady())

	fail.Store(false)
	c.run(context.Background(), h.lg)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	c.run(context.Background(), h.lg)
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint(t *testing.T) {
	h := New(zap.NewNop())
	h.AddReadiness("postgres", time.Second, func(context.Context) error { return nil })
	h.AddLiveness("goroutines", time.Second, failing("leak"))

	code, b := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, b.Checks)

	h.SetReady(true)
	code, b = get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", b.Status)
}

func TestRun_StopsWithContext(t *testing.T) {
	var calls atomic.Int32
	h := New(zap.NewNop())
	h.AddReadiness("count", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))
	assert.EqualError(t, PingCheck(pinger{err: errors.New("refused")})(context.Background()), "refused")
}
