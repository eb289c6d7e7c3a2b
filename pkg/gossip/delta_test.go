package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

func TestAddIfAbsentKeepsEntriesUnique(t *testing.T) {
	var d Delta
	require.True(t, d.AddIfAbsent(Joined, id(1, 0)))
	require.False(t, d.AddIfAbsent(Joined, id(1, 0)))
	require.True(t, d.AddIfAbsent(Joined, id(1, 3)), "different incarnation is a different entry")
	require.True(t, d.AddIfAbsent(Failed, id(1, 0)), "categories are independent")
	assert.Equal(t, 3, d.Len())
	assert.True(t, d.Contains(Failed, id(1, 0)))
	assert.False(t, d.Contains(Left, id(1, 0)))
}

func TestReadersWorkOnReturnedValues(t *testing.T) {
	pending := func() Delta { return Delta{Left: []ring.Identity{id(2, 4)}} }
	assert.False(t, pending().Empty())
	assert.Equal(t, 1, pending().Len())
	assert.True(t, pending().Contains(Left, id(2, 4)))
	assert.Equal(t, []ring.Identity{id(2, 4)}, pending().Get(Left))
	assert.True(t, Delta{}.Empty())
}

func TestRemoveConfirmedDropsFromBothSides(t *testing.T) {
	local := Delta{
		Joined: []ring.Identity{id(2, 1), id(3, 2)},
		Failed: []ring.Identity{id(4, 4)},
	}
	msg := Delta{
		Joined: []ring.Identity{id(3, 2), id(5, 6)},
		Failed: []ring.Identity{id(4, 4)},
		Left:   []ring.Identity{id(2, 1)},
	}

	n := RemoveConfirmed(&local, &msg)

	assert.Equal(t, 2, n)
	assert.Equal(t, []ring.Identity{id(2, 1)}, local.Joined)
	assert.Empty(t, local.Failed)
	assert.Equal(t, []ring.Identity{id(5, 6)}, msg.Joined)
	assert.Empty(t, msg.Failed)
	assert.Equal(t, []ring.Identity{id(2, 1)}, msg.Left, "same identity in another category is not a confirmation")
}

func TestAugmentAddsMissingOnly(t *testing.T) {
	local := Delta{
		Joined: []ring.Identity{id(1, 0)},
		Left:   []ring.Identity{id(6, 3)},
	}
	msg := Delta{Joined: []ring.Identity{id(1, 0), id(2, 5)}, Timestamp: 9}

	n := Augment(&msg, &local)

	assert.Equal(t, 1, n)
	assert.Equal(t, []ring.Identity{id(1, 0), id(2, 5)}, msg.Joined)
	assert.Equal(t, []ring.Identity{id(6, 3)}, msg.Left)
	assert.Equal(t, ring.Timestamp(9), msg.Timestamp)
	assert.Len(t, local.Left, 1, "augment leaves the local delta alone")
}

func TestCloneIsIndependent(t *testing.T) {
	d := Delta{Joined: []ring.Identity{id(1, 0)}}
	c := d.Clone()
	c.AddIfAbsent(Joined, id(2, 1))
	c.Joined[0] = id(9, 9)
	assert.Equal(t, []ring.Identity{id(1, 0)}, d.Joined)
}

func TestClock(t *testing.T) {
	c := NewClock(0)
	assert.Equal(t, ring.Timestamp(1), c.Tick())
	assert.Equal(t, ring.Timestamp(11), c.Observe(10), "remote ahead")
	assert.Equal(t, ring.Timestamp(12), c.Observe(3), "remote behind")
	assert.Equal(t, ring.Timestamp(12), c.Now())

	w := NewClock(65535)
	assert.Equal(t, ring.Timestamp(0), w.Tick(), "16-bit time wraps")
}
