package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestLoop_RunsInPostingOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := range 100 {
		require.NoError(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_SerialAcrossGoroutines(t *testing.T) {
	l, _ := startLoop(t)

	var (
		wg      sync.WaitGroup
		running int
		maxSeen int
		count   int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = l.Post(func() {
					running++
					if running > maxSeen {
						maxSeen = running
					}
					count++
					running--
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Do(context.Background(), func() {}))

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 400, count)
}

func TestLoop_TaskMayPost(t *testing.T) {
	l, _ := startLoop(t)

	var order []string
	require.NoError(t, l.Do(context.Background(), func() {
		order = append(order, "outer")
		_ = l.Post(func() { order = append(order, "inner") })
	}))
	require.NoError(t, l.Do(context.Background(), func() {}))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	l, _ := startLoop(t)

	require.NoError(t, l.Post(func() { panic("boom") }))
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_ClosedAfterCancel(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
}
