package mysqlcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTargetRejectsInvalidDSN(t *testing.T) {
	_, err := ParseTarget("bad", "not a dsn\x00")
	require.Error(t, err)
}

func TestParseTargetAccepts(t *testing.T) {
	target, err := ParseTarget("master", "user:pass@tcp(127.0.0.1:3306)/app")
	require.NoError(t, err)
	require.Equal(t, "master", target.Name)
	require.Equal(t, "app", target.Cfg.DBName)
}

func TestHandleClientBytesExtractsComQuery(t *testing.T) {
	c := &Codec{remoteAddr: "127.0.0.1:1234"}
	payload := append([]byte{comQuery}, []byte("SELECT 1")...)
	packet := make([]byte, headerLen+len(payload))
	packet[0] = byte(len(payload))
	copy(packet[headerLen:], payload)

	consumed, stmts, err := c.HandleClientBytes(packet)
	require.NoError(t, err)
	require.Equal(t, len(packet), consumed)
	require.Len(t, stmts, 1)
	require.Equal(t, "SELECT", stmts[0].Kind)
}

func TestHandleClientBytesWaitsForPartialPacket(t *testing.T) {
	c := &Codec{remoteAddr: "x"}
	partial := []byte{10, 0, 0, 0, byte(comQuery)}
	consumed, stmts, err := c.HandleClientBytes(partial)
	require.NoError(t, err)
	require.Equal(t, 0, consumed)
	require.Empty(t, stmts)
}

func TestSerializeForBackendWrapsComQuery(t *testing.T) {
	c := &Codec{remoteAddr: "x"}
	wire, err := c.SerializeForBackend("master", []byte("SELECT 1"))
	require.NoError(t, err)
	require.Equal(t, byte(comQuery), wire[headerLen])
	require.Equal(t, byte(0), wire[3])
}
