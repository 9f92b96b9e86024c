package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextIncreasesWithinOneMillisecond(t *testing.T) {
	g := NewGenerator(7)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	prev := g.Next()
	for i := 0; i < 5000; i++ {
		id := g.Next()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNextSurvivesClockGoingBack(t *testing.T) {
	g := NewGenerator(1)
	now := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	g.now = func() time.Time { return now }
	a := g.Next()

	now = now.Add(-time.Second)
	b := g.Next()
	assert.Greater(t, b, a)
}

func TestNodeIDEncoded(t *testing.T) {
	g := NewGenerator(42)
	id := g.Next()
	assert.Equal(t, int64(42), (id>>seqBits)&maxNode)

	bad := NewGenerator(5000)
	assert.Equal(t, int64(1), bad.nodeID)
}
