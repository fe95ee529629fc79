package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lordbasex/routingcore/internal/proto"
)

func TestSplitRoutesWritesToMaster(t *testing.T) {
	factory := Factory(Targets{Master: "master", Replicas: []string{"replica-0", "replica-1"}})
	r, err := factory(1)
	require.NoError(t, err)

	plan, err := r.OnStatement(context.Background(), proto.Classification{Kind: "INSERT", IsWrite: true}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"master"}, plan.Targets)
}

func TestSplitRoundRobinsReads(t *testing.T) {
	factory := Factory(Targets{Master: "master", Replicas: []string{"replica-0", "replica-1"}})
	r, err := factory(1)
	require.NoError(t, err)

	first, err := r.OnStatement(context.Background(), proto.Classification{Kind: "SELECT"}, nil)
	require.NoError(t, err)
	second, err := r.OnStatement(context.Background(), proto.Classification{Kind: "SELECT"}, nil)
	require.NoError(t, err)

	require.NotEqual(t, first.Targets, second.Targets)
}

func TestSplitFallsBackToMasterWithoutReplicas(t *testing.T) {
	factory := Factory(Targets{Master: "master"})
	r, err := factory(1)
	require.NoError(t, err)

	plan, err := r.OnStatement(context.Background(), proto.Classification{Kind: "SELECT"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"master"}, plan.Targets)
}

func TestSplitOnFailureReconnectsTransientReplica(t *testing.T) {
	factory := Factory(Targets{Master: "master", Replicas: []string{"replica-0"}})
	r, err := factory(1)
	require.NoError(t, err)

	recovery, err := r.OnFailure(context.Background(), "replica-0", proto.FailureTransient)
	require.NoError(t, err)
	require.True(t, recovery.Reconnect)

	recovery, err = r.OnFailure(context.Background(), "master", proto.FailurePermanent)
	require.NoError(t, err)
	require.False(t, recovery.Reconnect)
	require.NotEmpty(t, recovery.ClientErr)
}
