// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the switchboard CLI command tree.
package commands

import (
	"fmt"

	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/lib/version"
)

// Root returns the top-level command.
func Root() *cli.Command {
	return &cli.Command{
		Name:        "switchboard",
		Description: "Operate the switchboard brain: accounts, typed rooms, invitations,\nhomeserver provisioning, and the live event stream.",
		Subcommands: []*cli.Command{
			accountsCommand(),
			roomsCommand(),
			invitationsCommand(),
			provisionCommand(),
			eventsCommand(),
			statusCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(cli.Stdout, "switchboard %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Create a queue room and invite a worker", Command: "switchboard rooms create Jobs --kind queue --invite @worker1:example.org"},
			{Description: "Watch routed messages", Command: "switchboard events"},
		},
	}
}
