package mgo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fieldgate/data/database/mgo/mongoutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReadyTimesOutWithLastError(t *testing.T) {
	m := NewManager(&mongoutil.Config{Database: "fieldgate"})
	m.baseBackoff = time.Millisecond
	m.maxBackoff = 5 * time.Millisecond
	var calls atomic.Int32
	m.connect = func(context.Context, *mongoutil.Config) (*mongoutil.Client, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartAsync(ctx)

	wait, stop := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer stop()
	err := m.WaitReady(wait)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Greater(t, calls.Load(), int32(1), "connect is retried")

	_, ok := m.TryGetDB()
	assert.False(t, ok)
	assert.Error(t, m.Ping(context.Background()))
}

func TestStartStopsOnCancel(t *testing.T) {
	m := NewManager(&mongoutil.Config{Database: "fieldgate"})
	m.baseBackoff = time.Millisecond
	var calls atomic.Int32
	m.connect = func(context.Context, *mongoutil.Config) (*mongoutil.Client, error) {
		calls.Add(1)
		return nil, errors.New("down")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.StartAsync(ctx)
	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	n := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}
