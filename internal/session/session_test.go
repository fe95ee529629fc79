package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/proto"
	"github.com/stretchr/testify/require"
)

var errFake = errors.New("fake parse error")

type fakeProtocol struct {
	classifications []proto.Classification
	failParse       bool
}

func (f *fakeProtocol) HandleClientBytes(buf []byte) (int, []proto.Classification, error) {
	if f.failParse {
		return 0, nil, errFake
	}
	return len(buf), f.classifications, nil
}
func (f *fakeProtocol) HandleBackendBytes(target string, buf []byte) (int, []proto.ReplyAction, error) {
	return len(buf), []proto.ReplyAction{{AppendToClient: buf, IsTerminal: true}}, nil
}
func (f *fakeProtocol) SerializeForBackend(target string, stmt []byte) ([]byte, error) { return stmt, nil }
func (f *fakeProtocol) IsSafeToReuse(sessionState interface{}) bool                     { return true }
func (f *fakeProtocol) ResetForPooling(target string) ([]byte, error)                   { return nil, nil }

type fakeRouter struct {
	targets []string
}

func (r *fakeRouter) OnStatement(ctx context.Context, c proto.Classification, state interface{}) (proto.Plan, error) {
	return proto.Plan{Targets: r.targets, ReplyShape: proto.ReplySingle}, nil
}
func (r *fakeRouter) OnReply(ctx context.Context, p proto.Plan, packet []byte) (proto.ReplyAction, error) {
	return proto.ReplyAction{}, nil
}
func (r *fakeRouter) OnFailure(ctx context.Context, target string, kind proto.FailureKind) (proto.Recovery, error) {
	return proto.Recovery{}, nil
}

type fakeConnHandle struct {
	target string
	writes [][]byte
}

func (c *fakeConnHandle) Write(p []byte) error { c.writes = append(c.writes, p); return nil }
func (c *fakeConnHandle) Target() string       { return c.target }

type fakePool struct {
	conn ConnOrWait
}

type ConnOrWait struct {
	conn proto.ConnHandle
}

func (p *fakePool) Acquire(target string, sessionID uint64, sessionState interface{}) (proto.ConnHandle, bool, <-chan proto.ConnHandle, error) {
	return p.conn.conn, false, nil, nil
}
func (p *fakePool) Release(conn proto.ConnHandle) {}

type fakeCache struct{}

func (fakeCache) LookupOrInsert(fingerprint string, version uint64, producer func() (interface{}, int64, bool)) (interface{}, bool) {
	producer()
	return nil, false
}

func newTestSession(t *testing.T, proto_ *fakeProtocol, router *fakeRouter, target string) (*Session, *descriptor.Descriptor) {
	t.Helper()
	clientConn, _ := net.Pipe()
	clientDesc := descriptor.New(descriptor.RoleClient, clientConn, 1, 0)
	pool := &fakePool{conn: ConnOrWait{conn: &fakeConnHandle{target: target}}}
	s := New(1, 0, clientDesc, proto_, router, nil, pool, fakeCache{}, time.Minute, time.Minute)
	s.CompleteAuth(true)
	return s, clientDesc
}

func TestSessionStateMachineHappyPath(t *testing.T) {
	p := &fakeProtocol{classifications: []proto.Classification{{Kind: "select", Fingerprint: "fp1", Raw: []byte("SELECT 1")}}}
	r := &fakeRouter{targets: []string{"db1"}}
	s, clientDesc := newTestSession(t, p, r, "db1")
	require.Equal(t, StateRouting, s.State())

	clientDesc.AppendRead([]byte("SELECT 1\n"))
	err := s.OnClientReadable(context.Background())
	require.NoError(t, err)
	require.Contains(t, s.backends, "db1")
}

func TestSessionMovableWithNoBackends(t *testing.T) {
	p := &fakeProtocol{}
	r := &fakeRouter{}
	s, _ := newTestSession(t, p, r, "db1")
	require.True(t, s.IsMovable())
}

func TestSessionNotMovableMidTransaction(t *testing.T) {
	p := &fakeProtocol{}
	r := &fakeRouter{}
	s, _ := newTestSession(t, p, r, "db1")
	s.backends["db1"] = &backendSlot{inTx: true}
	require.False(t, s.IsMovable())
}

func TestSessionKillRequestDrains(t *testing.T) {
	p := &fakeProtocol{}
	r := &fakeRouter{}
	s, _ := newTestSession(t, p, r, "db1")
	s.RequestKill(DrainKillRequested)
	require.NoError(t, s.OnClientReadable(context.Background()))
	require.Equal(t, StateDraining, s.State())
}

func TestSessionFinalizeReleasesPoolableBackends(t *testing.T) {
	p := &fakeProtocol{}
	r := &fakeRouter{}
	s, _ := newTestSession(t, p, r, "db1")
	s.backends["db1"] = &backendSlot{conn: &fakeConnHandle{target: "db1"}}
	s.state = StateDraining
	require.True(t, s.SafeToClose())
	s.Finalize()
	require.Equal(t, StateClosed, s.State())
	require.Empty(t, s.backends)
}
