package planner_test

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
	"github.com/book-expert/blog-illustrator-service/internal/config"
	"github.com/book-expert/blog-illustrator-service/internal/planner"
	"github.com/book-expert/blog-illustrator-service/internal/promptbuilder"
)

type mockRemote struct {
	placements []planner.Placement
	err        error
	calls      int
}

func (m *mockRemote) Plan(context.Context, []anchors.Anchor, string, int) ([]planner.Placement, error) {
	m.calls++

	return m.placements, m.err
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func TestPlan_UsesRemoteInLiveMode(t *testing.T) {
	t.Parallel()

	remote := &mockRemote{placements: []planner.Placement{{AnchorID: "a5", Position: planner.PositionAfter}}}
	outcome := planner.New(config.ModeLive, remote, newTestLogger(t)).
		Plan(context.Background(), sampleAnchors(), "Title", 3)

	assert.Equal(t, planner.SourceRemote, outcome.Source)
	require.NoError(t, outcome.Err)
	assert.Equal(t, remote.placements, outcome.Placements)
}

func TestPlan_FallsBackOnRemoteError(t *testing.T) {
	t.Parallel()

	remote := &mockRemote{err: planner.ErrNoPlacements}
	outcome := planner.New(config.ModeLive, remote, newTestLogger(t)).
		Plan(context.Background(), sampleAnchors(), "Title", 2)

	assert.Equal(t, planner.SourceHeuristic, outcome.Source)
	require.ErrorIs(t, outcome.Err, planner.ErrNoPlacements)
	assert.Equal(t, planner.Heuristic(sampleAnchors(), 2), outcome.Placements)
}

func TestPlan_OfflineNeverCallsRemote(t *testing.T) {
	t.Parallel()

	remote := &mockRemote{}
	outcome := planner.New(config.ModeOffline, remote, newTestLogger(t)).
		Plan(context.Background(), sampleAnchors(), "Title", 2)

	assert.Zero(t, remote.calls)
	assert.Equal(t, planner.SourceHeuristic, outcome.Source)
	require.NoError(t, outcome.Err)
	assert.Len(t, outcome.Placements, 2)
}

func TestPlan_ZeroCapacity(t *testing.T) {
	t.Parallel()

	remote := &mockRemote{}
	outcome := planner.New(config.ModeLive, remote, newTestLogger(t)).
		Plan(context.Background(), sampleAnchors(), "Title", 0)

	assert.Zero(t, remote.calls)
	assert.NotNil(t, outcome.Placements)
	assert.Empty(t, outcome.Placements)
}

func TestPlan_MalformedRemoteJSONMatchesHeuristic(t *testing.T) {
	t.Parallel()

	list := sampleAnchors()
	remote := planner.NewRemote(&mockGenerator{response: "{not json"}, promptbuilder.DirectorConfig{})

	outcome := planner.New(config.ModeLive, remote, newTestLogger(t)).
		Plan(context.Background(), list, "Title", 3)

	require.ErrorIs(t, outcome.Err, planner.ErrMalformedResponse)
	assert.Equal(t, planner.Heuristic(list, 3), outcome.Placements)
}
