package descriptor

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferAppendConsume(t *testing.T) {
	var b buffer
	b.append([]byte("hello"))
	b.append([]byte(" world"))
	require.Equal(t, 11, b.Len())
	require.Equal(t, "hello world", string(b.Bytes()))

	b.Consume(6)
	require.Equal(t, 5, b.Len())
	require.Equal(t, "world", string(b.Bytes()))

	b.Consume(100)
	require.Equal(t, 0, b.Len())
}

func TestDescriptorReadWriteRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	d := New(RoleClient, server, 0, 0)

	d.QueueWrite([]byte("ping"))
	require.Equal(t, 4, d.PendingWriteLen())

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4)
		n, err := client.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "ping", string(buf[:n]))
	}()

	drained, err := d.Flush()
	require.NoError(t, err)
	require.True(t, drained)
	<-done
}

func TestZombieLifecycle(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := New(RoleBackend, server, 0, 0)
	require.False(t, d.IsZombie())

	d.ParkZombie("idle timeout")
	require.True(t, d.IsZombie())
	require.Equal(t, "idle timeout", d.ZombieNote())

	d.Unpark()
	require.False(t, d.IsZombie())
}
