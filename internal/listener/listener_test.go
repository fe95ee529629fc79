//go:build linux

package listener

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerAcceptsOneConnectionPerEvent(t *testing.T) {
	ln, err := New("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dialDone := make(chan error, 1)
	go func() {
		c, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
		if c != nil {
			defer c.Close()
		}
		dialDone <- err
	}()

	require.NoError(t, <-dialDone)

	// Give the kernel a moment to complete the handshake before polling.
	require.Eventually(t, func() bool {
		conn, ok, err := ln.AcceptOne()
		if err != nil || !ok {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestListenerAcceptOneReturnsFalseWhenEmpty(t *testing.T) {
	ln, err := New("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, ok, err := ln.AcceptOne()
	require.NoError(t, err)
	require.False(t, ok)
}
