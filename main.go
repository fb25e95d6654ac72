// Package main is the entry point for gatekeeper.
package main

import (
	"errors"
	"fmt"
	"os"

	"gatekeeper/cmd"
)

func main() {
	// With no subcommand, run as a server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := cmd.NewRootCmd().Execute(); err != nil {
		// verify has already printed its report
		if !errors.Is(err, cmd.ErrTestsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
