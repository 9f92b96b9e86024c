package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTransitions(t *testing.T) {
	c, mr := newTestCoord(t)
	ctx := context.Background()
	now := time.Now()
	key := "presence:worker:w1"

	ch, err := c.PresenceUp(ctx, key, "gw-1/c1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ch.CameOnline())

	// refresh is not a new connection
	ch, err = c.PresenceUp(ctx, key, "gw-1/c1", now.Add(10*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ch.Changed)
	assert.Equal(t, int64(1), ch.Active)

	ch, err = c.PresenceUp(ctx, key, "gw-2/c9", now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ch.CameOnline())
	assert.Equal(t, int64(2), ch.Active)

	members, err := c.PresenceMembers(ctx, key, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gw-1/c1", "gw-2/c9"}, members)

	ch, err = c.PresenceDown(ctx, key, "gw-1/c1", now)
	require.NoError(t, err)
	assert.False(t, ch.WentOffline())

	ch, err = c.PresenceDown(ctx, key, "gw-2/c9", now)
	require.NoError(t, err)
	assert.True(t, ch.WentOffline())
	assert.False(t, mr.Exists(key), "empty index is deleted")

	ch, err = c.PresenceDown(ctx, key, "gw-2/c9", now)
	require.NoError(t, err)
	assert.False(t, ch.Changed, "second down is a no-op")
}

func TestPresenceExpiredMembersAreSwept(t *testing.T) {
	c, _ := newTestCoord(t)
	ctx := context.Background()
	now := time.Now()
	key := "presence:worker:w2"

	_, err := c.PresenceUp(ctx, key, "dead/c1", now, 30*time.Second)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	members, err := c.PresenceMembers(ctx, key, later)
	require.NoError(t, err)
	assert.Empty(t, members)

	ch, err := c.PresenceUp(ctx, key, "gw-1/c2", later, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ch.CameOnline())
}

func TestPresenceRejectsZeroTTL(t *testing.T) {
	c, _ := newTestCoord(t)
	_, err := c.PresenceUp(context.Background(), "presence:worker:w3", "n/c", time.Now(), 0)
	assert.Error(t, err)
}
