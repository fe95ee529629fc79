// Package proto defines C6: the contracts the Session (C5) consumes from
// an external wire-protocol codec and router policy, and the contracts
// the core exposes back to them (spec §4.6, §6). Nothing in this
// package implements a concrete protocol or router — those are external
// collaborators (internal/protoimpl supplies example ones for tests and
// the demo binary).
package proto

import "context"

// ReplyShape tells the Session how many backend replies to expect for a
// statement before it is considered complete (spec §4.5 step 2).
type ReplyShape int

const (
	ReplySingle ReplyShape = iota
	ReplyMultiple
	ReplyNone
)

// Classification is what a ProtocolModule reports for one incoming
// client packet (spec §4.6: classify(packet)).
type Classification struct {
	Kind              string
	Fingerprint       string
	IsWrite           bool
	TouchesSessionState bool
	// Raw is the original packet bytes, opaque to the core, handed back
	// to the codec for serialization decisions.
	Raw []byte
}

// Plan is what a RouterModule returns for a classified statement (spec
// §4.6: route(classification, session_state)).
type Plan struct {
	Targets        []string
	ReplyShape     ReplyShape
	Transformation []byte // the (possibly rewritten) statement to send; nil means send Raw unchanged
}

// ReplyAction is what a RouterModule/ProtocolModule reports for one
// backend reply packet (spec §4.6: on_reply(backend, packet)).
type ReplyAction struct {
	AppendToClient []byte
	IsTerminal     bool
	NextExpected   ReplyShape
}

// FailureKind classifies a backend error as the codec sees it (spec
// §4.5 failure semantics).
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailurePermanent
)

// Recovery is what a RouterModule decides to do about a backend failure.
type Recovery struct {
	Reconnect bool
	ClientErr []byte // protocol-level error reply to send to the client, if any
}

// ProtocolModule is the per-session wire-protocol codec contract (spec
// §6: "a constructor given a freshly accepted client fd" plus the five
// entry points below).
type ProtocolModule interface {
	// HandleClientBytes consumes buffered client bytes and yields zero or
	// more classified statements; it must not block and must not retain
	// the slice beyond the call.
	HandleClientBytes(buf []byte) (consumed int, statements []Classification, err error)
	// HandleBackendBytes consumes buffered bytes from one backend
	// connection (identified by an opaque target key) and yields reply
	// actions.
	HandleBackendBytes(target string, buf []byte) (consumed int, actions []ReplyAction, err error)
	// SerializeForBackend turns a (possibly transformed) statement into
	// the bytes to write to a specific backend target.
	SerializeForBackend(target string, stmt []byte) ([]byte, error)
	// IsSafeToReuse reports whether sessionState allows the connection
	// currently held for target to be returned to the pool.
	IsSafeToReuse(sessionState interface{}) bool
	// ResetForPooling strips session-specific state from a connection
	// before releasing it to the pool (e.g. resetting session variables).
	ResetForPooling(target string) ([]byte, error)
}

// RouterModule is the per-session router policy contract (spec §4.6).
type RouterModule interface {
	OnStatement(ctx context.Context, c Classification, sessionState interface{}) (Plan, error)
	OnReply(ctx context.Context, p Plan, packet []byte) (ReplyAction, error)
	OnFailure(ctx context.Context, target string, kind FailureKind) (Recovery, error)
}

// ProtocolFactory constructs a ProtocolModule for a freshly accepted
// client connection, given its remote address for logging/ACL use.
type ProtocolFactory func(remoteAddr string) (ProtocolModule, error)

// RouterFactory constructs a RouterModule for a new session.
type RouterFactory func(sessionID uint64) (RouterModule, error)
