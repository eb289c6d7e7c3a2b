package gossip

import (
	"slices"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

func (d *Delta) list(c Category) *[]ring.Identity {
	switch c {
	case Joined:
		return &d.Joined
	case Left:
		return &d.Left
	default:
		return &d.Failed
	}
}

// Get returns the entries of one category.
func (d Delta) Get(c Category) []ring.Identity {
	return *d.list(c)
}

func (d Delta) Contains(c Category, id ring.Identity) bool {
	return slices.Contains(*d.list(c), id)
}

// AddIfAbsent appends id to category c unless an identical identity is
// already there. Reports whether it was added.
func (d *Delta) AddIfAbsent(c Category, id ring.Identity) bool {
	l := d.list(c)
	if slices.Contains(*l, id) {
		return false
	}
	*l = append(*l, id)
	return true
}

// Remove deletes the first occurrence of id from category c.
func (d *Delta) Remove(c Category, id ring.Identity) bool {
	l := d.list(c)
	i := slices.Index(*l, id)
	if i < 0 {
		return false
	}
	*l = slices.Delete(*l, i, i+1)
	return true
}

func (d Delta) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0 && len(d.Failed) == 0
}

func (d Delta) Len() int {
	return len(d.Joined) + len(d.Left) + len(d.Failed)
}

func (d Delta) Clone() Delta {
	return Delta{
		Joined:    slices.Clone(d.Joined),
		Left:      slices.Clone(d.Left),
		Failed:    slices.Clone(d.Failed),
		Timestamp: d.Timestamp,
	}
}

// RemoveConfirmed drops every entry present in both local and msg from both.
// An event we are tracking that comes back to us has been seen by the whole
// ring. Returns the number of entries confirmed.
func RemoveConfirmed(local, msg *Delta) int {
	n := 0
	for _, c := range categories {
		pending := local.list(c)
		kept := (*pending)[:0]
		for _, id := range *pending {
			if msg.Remove(c, id) {
				n++
				continue
			}
			kept = append(kept, id)
		}
		*pending = kept
	}
	return n
}

// Augment copies local entries missing from msg into msg so still-pending
// events ride along with the relay. Returns the number of entries added.
func Augment(msg, local *Delta) int {
	n := 0
	for _, c := range categories {
		for _, id := range local.Get(c) {
			if msg.AddIfAbsent(c, id) {
				n++
			}
		}
	}
	return n
}
