package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTrackerRefcountsSessions(t *testing.T) {
	tracker := NewLocalTracker()
	ctx := context.Background()

	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))

	online, err := tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	// One tab closes, the other keeps the user online.
	require.NoError(t, tracker.MarkOffline(ctx, "u1"))
	online, err = tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, tracker.MarkOffline(ctx, "u1"))
	online, err = tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestLocalTrackerOnlineSet(t *testing.T) {
	tracker := NewLocalTracker()
	ctx := context.Background()

	require.NoError(t, tracker.MarkOnline(ctx, "u1"))

	online, err := tracker.OnlineSet(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.True(t, online["u1"])
	assert.False(t, online["u2"])
}

func TestLocalTrackerRefreshLeavesSessionCountsAlone(t *testing.T) {
	tracker := NewLocalTracker()
	ctx := context.Background()

	require.NoError(t, tracker.Refresh(ctx, "u1"))
	online, err := tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online, "refresh must not create presence")

	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	require.NoError(t, tracker.Refresh(ctx, "u1"))
	require.NoError(t, tracker.MarkOffline(ctx, "u1"))

	online, err = tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online, "refresh must not add a session to unwind")
}

func TestLocalTrackerOfflineUnknownUserIsNoOp(t *testing.T) {
	tracker := NewLocalTracker()
	ctx := context.Background()

	require.NoError(t, tracker.MarkOffline(ctx, "ghost"))

	online, err := tracker.IsOnline(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, online)
}
