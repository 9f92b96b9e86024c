package chat

import (
	"testing"
	"time"

	"fieldgate/module/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func isClosed(c *Client) bool {
	select {
	case <-c.Closed():
		return true
	default:
		return false
	}
}

func TestConnManagerAddRemove(t *testing.T) {
	m := NewConnManager(ManagerConf{}, "n1")
	a := newTestClient("c1", model.KindOperator, "u1")
	b := newTestClient("c2", model.KindWorker, "u1")
	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, "n1", m.NodeID())

	// operator u1 and worker u1 are different people
	assert.Len(t, m.ListUserConns(model.KindOperator, "u1"), 1)
	assert.Len(t, m.ListUserConns(model.KindWorker, "u1"), 1)

	got, ok := m.Get("c1")
	require.True(t, ok)
	assert.Same(t, a, got)

	// a stale client with a reused id is not removed
	m.Remove(newTestClient("c1", model.KindOperator, "u1"))
	assert.Equal(t, 2, m.Count())

	m.Remove(a)
	m.Remove(a)
	_, ok = m.Get("c1")
	assert.False(t, ok)
	assert.Empty(t, m.ListUserConns(model.KindOperator, "u1"))
	assert.Equal(t, 1, m.Count())

	assert.Error(t, m.Add(nil))
}

func TestConnManagerRefusesOverLimit(t *testing.T) {
	m := NewConnManager(ManagerConf{MaxPerUser: 1, Clock: stepClock()}, "n1")
	require.NoError(t, m.Add(newTestClient("c1", model.KindWorker, "w1")))
	assert.ErrorIs(t, m.Add(newTestClient("c2", model.KindWorker, "w1")), ErrTooManyConns)
	assert.NoError(t, m.Add(newTestClient("c3", model.KindWorker, "w2")))
}

func TestConnManagerEvictsOldest(t *testing.T) {
	m := NewConnManager(ManagerConf{MaxPerUser: 2, EvictOldest: true, Clock: stepClock()}, "n1")
	c1 := newTestClient("c1", model.KindOperator, "op1")
	c2 := newTestClient("c2", model.KindOperator, "op1")
	c3 := newTestClient("c3", model.KindOperator, "op1")
	require.NoError(t, m.Add(c1))
	require.NoError(t, m.Add(c2))
	require.NoError(t, m.Add(c3))

	assert.True(t, isClosed(c1))
	assert.Equal(t, "evicted", c1.closeReason)
	assert.False(t, isClosed(c2))

	conns := m.ListUserConns(model.KindOperator, "op1")
	require.Len(t, conns, 2)
	assert.Equal(t, "c2", conns[0].ConnID)
	assert.Equal(t, "c3", conns[1].ConnID)
}

func TestConnManagerCloseAll(t *testing.T) {
	m := NewConnManager(ManagerConf{}, "n1")
	a := newTestClient("c1", model.KindOperator, "op1")
	b := newTestClient("c2", model.KindWorker, "w1")
	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))

	m.CloseAll("server_shutdown")
	assert.True(t, isClosed(a))
	assert.True(t, isClosed(b))
	assert.Equal(t, "server_shutdown", b.closeReason)
}
