package asyncsvc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestService_StartStop(t *testing.T) {
	svc := New("test")
	var ticks atomic.Int32

	svc.Start(context.Background(), func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				ticks.Add(1)
				time.Sleep(time.Millisecond)
			}
		}
	})

	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)
	require.True(t, svc.IsRunning())

	svc.Stop()
	require.False(t, svc.IsRunning())
}

func TestService_StartIdempotent(t *testing.T) {
	svc := New("test")
	calls := atomic.Int32{}
	block := make(chan struct{})

	loop := func(ctx context.Context) {
		calls.Add(1)
		<-ctx.Done()
	}
	svc.Start(context.Background(), loop)
	svc.Start(context.Background(), loop) // no-op, already running

	close(block)
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), calls.Load())

	svc.Stop()
}

func TestService_StopWithoutStart(t *testing.T) {
	svc := New("never-started")
	require.NotPanics(t, func() { svc.Stop() })
}
