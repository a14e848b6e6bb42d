// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
)

func statusCommand() *cli.Command {
	var (
		conn   connection
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show whether the daemon is up and which account it runs as",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var status api.StatusResponse
			if err := conn.call(api.ActionStatus, nil, &status); err != nil {
				return err
			}
			if done, err := output.EmitJSON(status); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "%s as %s, %d pending invitation(s)\n",
				status.Status, status.UserID, status.PendingInvitations)
			return nil
		},
	}
}
