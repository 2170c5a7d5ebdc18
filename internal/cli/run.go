// Package cli is the seam between the relmirror binary and its tests: the
// main package installs Handler, tests call Run in-process.
package cli

import (
	"fmt"
	"io"
)

// Handler runs one relmirror invocation and returns its exit code.
var Handler func(args []string, stdout, stderr io.Writer) int

func Run(args []string, stdout, stderr io.Writer) int {
	if Handler == nil {
		fmt.Fprintln(stderr, "relmirror: no command handler installed")
		return 1
	}
	return Handler(args, stdout, stderr)
}
