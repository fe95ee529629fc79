package pool

import (
	"net"
	"testing"
	"time"

	"github.com/lordbasex/routingcore/internal/coreerr"
	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id        int
	healthy   bool
	inTx      bool
	closed    bool
	desc      *descriptor.Descriptor
	scoreFunc func(interface{}) Score
}

func newFakeConn(id int) *fakeConn {
	server, _ := net.Pipe()
	return &fakeConn{
		id:      id,
		healthy: true,
		desc:    descriptor.New(descriptor.RoleBackend, server, id, 0),
	}
}

func (f *fakeConn) Healthy() bool       { return f.healthy }
func (f *fakeConn) InTransaction() bool { return f.inTx }
func (f *fakeConn) ScoreFor(s interface{}) Score {
	if f.scoreFunc != nil {
		return f.scoreFunc(s)
	}
	return 1
}
func (f *fakeConn) Descriptor() *descriptor.Descriptor { return f.desc }
func (f *fakeConn) Close() error                       { f.closed = true; return nil }

func TestPoolReuseAcrossStatements(t *testing.T) {
	p := New(1, time.Minute, time.Second)

	c1 := newFakeConn(1)
	require.NoError(t, p.Release("db1", c1, true))

	res, err := p.Acquire("db1", 100, nil, false, 0)
	require.NoError(t, err)
	require.Same(t, c1, res.Conn)

	stats := p.Stats("db1")
	require.EqualValues(t, 1, stats.TimesFound)
	require.EqualValues(t, 0, stats.TimesEmpty)

	require.NoError(t, p.Release("db1", c1, true))

	res2, err := p.Acquire("db1", 100, nil, false, 0)
	require.NoError(t, err)
	require.Same(t, c1, res2.Conn)

	stats = p.Stats("db1")
	require.EqualValues(t, 2, stats.TimesFound)
	require.EqualValues(t, 0, stats.TimesEmpty)
}

func TestPoolCapAndWaiter(t *testing.T) {
	p := New(1, time.Minute, time.Second)

	// Worker admits one live connection up to the cap.
	res, err := p.Acquire("db1", 1, nil, true, 10)
	require.NoError(t, err)
	require.False(t, res.Waiting)
	p.AdmitNewConnection("db1")

	// A second acquire for the same target is now at capacity and queues.
	res2, err := p.Acquire("db1", 2, nil, true, 10)
	require.NoError(t, err)
	require.True(t, res2.Waiting)
	require.NotNil(t, res2.Waiter)

	c1 := newFakeConn(1)
	require.NoError(t, p.Release("db1", c1, true))

	select {
	case outcome := <-res2.Waiter.Wait():
		require.Equal(t, WaitSuccess, outcome.Status)
		require.Same(t, c1, outcome.Conn)
	case <-time.After(time.Second):
		t.Fatal("waiter was not activated")
	}
}

func TestPoolWaiterExpirySweep(t *testing.T) {
	p := New(1, time.Minute, 10*time.Millisecond)

	_, err := p.Acquire("db1", 1, nil, true, 10)
	require.NoError(t, err)
	p.AdmitNewConnection("db1")

	res2, err := p.Acquire("db1", 2, nil, true, 10)
	require.NoError(t, err)
	require.True(t, res2.Waiting)

	time.Sleep(20 * time.Millisecond)
	p.FailExpiredWaiters(time.Now())

	select {
	case outcome := <-res2.Waiter.Wait():
		require.Equal(t, WaitFail, outcome.Status)
		require.Error(t, outcome.Err)
	default:
		t.Fatal("expected expired waiter to be failed")
	}
}

func TestPoolReleaseClosesUnhealthyConnection(t *testing.T) {
	p := New(4, time.Minute, time.Second)
	c := newFakeConn(1)
	c.healthy = false

	require.NoError(t, p.Release("db1", c, true))
	require.True(t, c.closed)
	require.Equal(t, 0, p.Stats("db1").CurrentSize)
}

func TestPoolExpireClosesAgedEntries(t *testing.T) {
	p := New(4, time.Millisecond, time.Second)
	c := newFakeConn(1)
	require.NoError(t, p.Release("db1", c, true))

	time.Sleep(5 * time.Millisecond)
	closed := p.Expire(time.Now())
	require.Equal(t, 1, closed)
	require.True(t, c.closed)
}

func TestPoolCapacityZeroBypassesPool(t *testing.T) {
	p := New(0, time.Minute, time.Second)

	res, err := p.Acquire("db1", 1, nil, true, 10)
	require.NoError(t, err)
	require.False(t, res.Waiting)
	require.Nil(t, res.Conn)
}

func TestPoolResourceBusyWhenWaiterQueueFull(t *testing.T) {
	p := New(1, time.Minute, time.Second)
	_, err := p.Acquire("db1", 1, nil, true, 0)
	require.NoError(t, err)
	p.AdmitNewConnection("db1")

	_, err = p.Acquire("db1", 2, nil, true, 0)
	require.ErrorIs(t, err, coreerr.ErrResourceBusy)
}
