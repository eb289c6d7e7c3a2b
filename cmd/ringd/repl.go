package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// controller is the part of the daemon the operator prompt drives.
type controller interface {
	Leave(ctx context.Context) error
	Kill()
}

const helpText = `commands:
  h    show this help
  l    leave the group gracefully and exit
  k, q kill this node without notice and exit
`

// repl reads single-character commands until one of them ends the process and
// returns the exit status. End of input kills the node and returns 1.
func repl(ctx context.Context, in io.Reader, out io.Writer, c controller, log *zap.Logger) int {
	fmt.Fprint(out, helpText)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				log.Warn("reading commands", zap.Error(err))
			}
			c.Kill()
			return 1
		}
		switch strings.TrimSpace(sc.Text()) {
		case "l":
			if err := c.Leave(ctx); err != nil {
				log.Error("leave failed", zap.Error(err))
				return 1
			}
			return 0
		case "k", "q":
			c.Kill()
			return 0
		default:
			fmt.Fprint(out, helpText)
		}
	}
}
