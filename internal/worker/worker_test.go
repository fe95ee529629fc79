//go:build linux

package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerDrainsPointTasks(t *testing.T) {
	w, err := New(0, 10*time.Millisecond, nil, nil, time.Second)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	w.Post(func() { wg.Done() })

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("point task never ran")
	}

	cancel()
	<-w.Done()
}

func TestWorkerBroadcastRefcount(t *testing.T) {
	w, err := New(0, 10*time.Millisecond, nil, nil, time.Second)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	var refcount int32 = 1
	ran := make(chan struct{})
	w.PostBroadcast(func() { close(ran) }, &refcount)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("broadcast task never ran")
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&refcount) == 0
	}, time.Second, time.Millisecond)
}

func TestLoadGaugeTracksBusyFraction(t *testing.T) {
	var g LoadGauge
	g.Sample(1.0, time.Second)
	require.Greater(t, g.Load1s(), 0.0)
}
