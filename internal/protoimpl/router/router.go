// Package router supplies the demo binary's RouterModule: a minimal
// read/write split policy (SPEC_FULL.md §3, "Supplement dropped
// features" — concrete router policies are named out of scope for the
// core itself in spec.md §1, but the demo/example layer needs one
// concrete instance to exercise C5/C6 end-to-end).
package router

import (
	"context"

	"github.com/lordbasex/routingcore/internal/proto"
)

// Targets names the two backend groups this policy routes between.
type Targets struct {
	Master   string
	Replicas []string
}

// Split is a stateless-per-statement read/write router: write
// statements and anything touching session state (transactions,
// session variables) go to Master; read statements are spread across
// Replicas round-robin. It implements proto.RouterModule.
type Split struct {
	targets Targets
	next    int
}

// Factory returns a proto.RouterFactory binding every new session to the
// same Targets configuration.
func Factory(targets Targets) proto.RouterFactory {
	return func(sessionID uint64) (proto.RouterModule, error) {
		return &Split{targets: targets}, nil
	}
}

// OnStatement implements spec §4.6: route(classification, session_state).
func (s *Split) OnStatement(ctx context.Context, c proto.Classification, sessionState interface{}) (proto.Plan, error) {
	if c.IsWrite || c.TouchesSessionState || len(s.targets.Replicas) == 0 {
		return proto.Plan{Targets: []string{s.targets.Master}, ReplyShape: proto.ReplySingle}, nil
	}
	target := s.targets.Replicas[s.next%len(s.targets.Replicas)]
	s.next++
	return proto.Plan{Targets: []string{target}, ReplyShape: proto.ReplySingle}, nil
}

// OnReply implements spec §4.6: on_reply(plan, packet). This policy
// forwards backend replies unmodified; rewriting is a codec concern.
func (s *Split) OnReply(ctx context.Context, p proto.Plan, packet []byte) (proto.ReplyAction, error) {
	return proto.ReplyAction{AppendToClient: packet, IsTerminal: true}, nil
}

// OnFailure implements spec §4.6/§4.5 failure semantics: attempt a
// silent reconnect for a transient failure against a replica (reads are
// idempotent); anything else surfaces to the client.
func (s *Split) OnFailure(ctx context.Context, target string, kind proto.FailureKind) (proto.Recovery, error) {
	isReplica := false
	for _, r := range s.targets.Replicas {
		if r == target {
			isReplica = true
			break
		}
	}
	if kind == proto.FailureTransient && isReplica {
		return proto.Recovery{Reconnect: true}, nil
	}
	return proto.Recovery{ClientErr: []byte("backend unavailable")}, nil
}
