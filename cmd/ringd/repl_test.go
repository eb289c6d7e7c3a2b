package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type fakeController struct {
	leaves   int
	kills    int
	leaveErr error
}

func (f *fakeController) Leave(context.Context) error {
	f.leaves++
	return f.leaveErr
}

func (f *fakeController) Kill() { f.kills++ }

func TestREPL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		leaveErr error
		code     int
		leaves   int
		kills    int
	}{
		{name: "leave", input: "l\n", code: 0, leaves: 1},
		{name: "leave fails", input: "l\n", leaveErr: errors.New("boom"), code: 1, leaves: 1},
		{name: "kill", input: "k\n", code: 0, kills: 1},
		{name: "quit", input: "q\n", code: 0, kills: 1},
		{name: "help then kill", input: "h\nxyz\n\nk\n", code: 0, kills: 1},
		{name: "end of input", input: "h\n", code: 1, kills: 1},
		{name: "padded command", input: "  l  \n", code: 0, leaves: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeController{leaveErr: tt.leaveErr}
			var out bytes.Buffer
			code := repl(context.Background(), strings.NewReader(tt.input), &out, c, zaptest.NewLogger(t))
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.leaves, c.leaves)
			assert.Equal(t, tt.kills, c.kills)
		})
	}
}

func TestREPLPrintsHelpForUnknownInput(t *testing.T) {
	c := &fakeController{}
	var out bytes.Buffer
	repl(context.Background(), strings.NewReader("?\nk\n"), &out, c, zaptest.NewLogger(t))
	// once up front, once for "?"
	assert.Equal(t, 2, strings.Count(out.String(), "commands:"))
}
