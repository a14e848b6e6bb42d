// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Switchboard is the operator CLI for the switchboard daemon. Most
// commands talk to the daemon's control socket; "events" reads the
// HTTP event stream, and "provision --local" drives the homeserver
// container without a running daemon.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/switchboard/cmd/switchboard/commands"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
