package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/duplexsync/duplex/internal/engine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, engine.ErrAborted) {
			fmt.Fprintln(os.Stderr, "aborted")
			os.Exit(1)
		}

		if errors.Is(err, engine.ErrLockContention) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		exitOnError(err)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
