package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fossas/broker/internal/brokererr"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.db")
	s, err := Open(Config{Path: path, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentVersionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.AgentVersion(ctx, "broker")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ClaimAgentVersion(ctx, "broker", "1.2.3"))
	v, ok, err := s.AgentVersion(ctx, "broker")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", v)
}

func TestClaimAgentVersionUpgradesNoopsAndRejects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ClaimAgentVersion(ctx, "broker", "1.0.0"))

	// Equal version is a no-op.
	require.NoError(t, s.ClaimAgentVersion(ctx, "broker", "1.0.0"))
	v, _, err := s.AgentVersion(ctx, "broker")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)

	// Lesser stored version is overwritten by the newer running version.
	require.NoError(t, s.ClaimAgentVersion(ctx, "broker", "1.1.0"))
	v, _, err = s.AgentVersion(ctx, "broker")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v)

	// Greater stored version than the running binary fails with AgentOutdated.
	err = s.ClaimAgentVersion(ctx, "broker", "1.0.5")
	require.Error(t, err)
	kind, ok := brokererr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, brokererr.KindAgentOutdated, kind)

	// The failed claim must not have advanced the stored version.
	v, _, err = s.AgentVersion(ctx, "broker")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v)
}

func TestStateRoundTripAndUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	coord := Coordinate{IntegrationKind: "git", RemoteID: "origin", ReferenceID: "branch:main"}

	_, ok, err := s.State(ctx, coord)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetState(ctx, coord, []byte("abc123"), true))
	state, ok, err := s.State(ctx, coord)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc123"), state)

	// SetState on an existing coordinate upserts rather than erroring or
	// silently no-opping.
	require.NoError(t, s.SetState(ctx, coord, []byte("def456"), true))
	state, ok, err = s.State(ctx, coord)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("def456"), state)
}

func TestDeleteStatesFiltersByRemoteAndBranch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	branch := Coordinate{IntegrationKind: "git", RemoteID: "origin", ReferenceID: "branch:main"}
	tag := Coordinate{IntegrationKind: "git", RemoteID: "origin", ReferenceID: "tag:v1"}
	otherRemote := Coordinate{IntegrationKind: "git", RemoteID: "fork", ReferenceID: "branch:main"}

	require.NoError(t, s.SetState(ctx, branch, []byte("a"), true))
	require.NoError(t, s.SetState(ctx, tag, []byte("b"), false))
	require.NoError(t, s.SetState(ctx, otherRemote, []byte("c"), true))

	require.NoError(t, s.DeleteStates(ctx, "origin", true))

	_, ok, err := s.State(ctx, branch)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.State(ctx, tag)
	require.NoError(t, err)
	assert.True(t, ok, "tag state for the same remote but different is_branch must survive")

	_, ok, err = s.State(ctx, otherRemote)
	require.NoError(t, err)
	assert.True(t, ok, "branch state for a different remote must survive")
}

func TestHealthcheck(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Healthcheck(context.Background()))
}
