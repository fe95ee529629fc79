//go:build linux

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lordbasex/routingcore/internal/worker"
)

func newTestWorkers(t *testing.T, n int) []*worker.Worker {
	t.Helper()
	workers := make([]*worker.Worker, n)
	for i := 0; i < n; i++ {
		w, err := worker.New(i, 10*time.Millisecond, nil, nil, time.Second)
		require.NoError(t, err)
		workers[i] = w

		ctx, cancel := context.WithCancel(context.Background())
		go w.Run(ctx)
		wc := w
		t.Cleanup(func() { wc.Close() })
		t.Cleanup(cancel)
	}
	return workers
}

func TestBroadcastRunsOnEveryWorker(t *testing.T) {
	workers := newTestWorkers(t, 3)
	c := New(workers, 20, 0)

	seen := make(chan int, len(workers))
	c.BroadcastWait(func(w *worker.Worker) { seen <- w.ID() })

	ids := map[int]bool{}
	for i := 0; i < len(workers); i++ {
		ids[<-seen] = true
	}
	require.Len(t, ids, 3)
}

func TestBroadcastSerialRunsInOrder(t *testing.T) {
	workers := newTestWorkers(t, 3)
	c := New(workers, 20, 0)

	var order []int
	c.BroadcastSerial(func(w *worker.Worker) { order = append(order, w.ID()) })
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestLoadSpreadPercent(t *testing.T) {
	require.Equal(t, 30, loadSpreadPercent([]float64{0.1, 0.4}))
	require.Equal(t, 0, loadSpreadPercent(nil))
}

func TestAssignForAcceptPicksLeastLoaded(t *testing.T) {
	workers := newTestWorkers(t, 2)
	workers[0].Load().Sample(0.9, time.Second)
	workers[1].Load().Sample(0.1, time.Second)
	c := New(workers, 20, 0)

	require.Equal(t, 1, c.AssignForAccept().ID())
}
