package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = remote
	return req
}

func TestLimiter_UnderLimit(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	handler := l.Middleware()(okHandler())

	for i := range 5 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, request("192.168.1.1:12345"))

		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestLimiter_OverLimit(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	handler := l.Middleware()(okHandler())

	for range 2 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, request("10.0.0.1:9999"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, request("10.0.0.1:9999"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestLimiter_Keys(t *testing.T) {
	for _, tt := range []struct {
		name    string
		cfg     RateLimitConfig
		prepare func(r *http.Request, i int)
		want    []int
	}{
		{
			name: "DifferentIPs",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute},
			prepare: func(r *http.Request, i int) {
				r.RemoteAddr = []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.1:2"}[i]
			},
			want: []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests},
		},
		{
			name: "ForwardedFor",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute},
			prepare: func(r *http.Request, i int) {
				r.RemoteAddr = []string{"192.168.1.1:4444", "192.168.1.2:5555"}[i]
				r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
			},
			want: []int{http.StatusOK, http.StatusTooManyRequests},
		},
		{
			name: "CustomKey",
			cfg: RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: func(r *http.Request) string {
				return r.Header.Get("X-Device")
			}},
			prepare: func(r *http.Request, i int) {
				r.Header.Set("X-Device", []string{"a", "a", "b"}[i])
			},
			want: []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK},
		},
		{
			name: "UpgradesOnly",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute, Match: UpgradesOnly},
			prepare: func(r *http.Request, i int) {
				if i > 0 {
					r.Header.Set("Upgrade", "websocket")
				}
			},
			want: []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewLimiter(tt.cfg).Middleware()(okHandler())
			for i, want := range tt.want {
				req := request("10.9.9.9:1")
				tt.prepare(req, i)
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)
				assert.Equal(t, want, w.Code, "request %d", i)
			}
		})
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	l.now = func() time.Time { return now }

	_, _, ok := l.Allow("k")
	require.True(t, ok)
	_, _, ok = l.Allow("k")
	require.True(t, ok)
	_, _, ok = l.Allow("k")
	require.False(t, ok)

	// Half way into the next window the previous one still counts for half.
	now = now.Add(90 * time.Second)
	_, _, ok = l.Allow("k")
	assert.True(t, ok)
	_, _, ok = l.Allow("k")
	assert.False(t, ok)

	// Two windows later the key is evicted.
	now = now.Add(3 * time.Minute)
	l.evict()
	assert.Equal(t, 0, l.Len())
}
