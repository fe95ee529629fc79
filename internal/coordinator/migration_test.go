//go:build linux

package coordinator

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/epoll"
	"github.com/lordbasex/routingcore/internal/session"
)

func TestMigrateSessionMovesOwnership(t *testing.T) {
	workers := newTestWorkers(t, 2)
	src, dst := workers[0], workers[1]

	clientConn, _ := net.Pipe()
	// epoll only accepts an open fd, so back the descriptor with a real pipe.
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { pr.Close(); pw.Close() })
	clientDesc := descriptor.New(descriptor.RoleClient, clientConn, int(pr.Fd()), src.ID())
	require.NoError(t, src.AddDescriptor(clientDesc, epoll.Readable))

	s := session.New(1, src.ID(), clientDesc, nil, nil, nil, nil, nil, time.Minute, time.Minute)
	s.CompleteAuth(true)
	src.Sessions().Put(1, s)

	c := New(workers, 20, 0)
	require.NoError(t, c.MigrateSession(src, dst, 1))

	_, stillOnSrc := src.Sessions().Get(1)
	require.False(t, stillOnSrc)

	moved, onDst := dst.Sessions().Get(1)
	require.True(t, onDst)
	require.Same(t, s, moved)
	require.Equal(t, dst.ID(), s.OwnerWorker)
}

func TestMigrateSessionDeclinedWhenNotMovable(t *testing.T) {
	workers := newTestWorkers(t, 2)
	src, dst := workers[0], workers[1]

	clientConn, _ := net.Pipe()
	clientDesc := descriptor.New(descriptor.RoleClient, clientConn, 102, src.ID())
	s := session.New(2, src.ID(), clientDesc, nil, nil, nil, nil, nil, time.Minute, time.Minute)
	s.RequestKill(session.DrainKillRequested)
	src.Sessions().Put(2, s)

	c := New(workers, 20, 0)
	require.Error(t, c.MigrateSession(src, dst, 2))
}
