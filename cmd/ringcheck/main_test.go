package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

func TestConverged(t *testing.T) {
	tests := []struct {
		name  string
		views [][]ring.NodeID
		want  bool
	}{
		{"no views", nil, false},
		{"single", [][]ring.NodeID{{1, 2, 3}}, true},
		{"identical", [][]ring.NodeID{{1, 3, 2}, {1, 3, 2}}, true},
		{"rotated", [][]ring.NodeID{{1, 3, 2}, {3, 2, 1}}, true},
		{"reversed", [][]ring.NodeID{{1, 2, 3}, {3, 2, 1}}, false},
		{"missing member", [][]ring.NodeID{{1, 2, 3}, {1, 2}}, false},
		{"all empty", [][]ring.NodeID{{}, {}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, converged(tt.views))
		})
	}
}

func TestSplitAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitAddrs(" a:1, ,b:2,"))
	assert.Empty(t, splitAddrs(""))
}
