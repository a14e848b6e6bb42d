// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/syncengine"
)

func invitationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "invitations",
		Summary: "List, accept, and reject the brain's pending invites",
		Subcommands: []*cli.Command{
			invitationsListCommand(),
			invitationDecisionCommand("accept", "Join a room the brain is invited to", api.ActionInvitationsAccept, "accepted"),
			invitationDecisionCommand("reject", "Decline a pending invitation", api.ActionInvitationsReject, "rejected"),
		},
	}
}

func invitationsListCommand() *cli.Command {
	var (
		conn   connection
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List pending invitations",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var invitations []syncengine.Invitation
			if err := conn.call(api.ActionInvitationsList, nil, &invitations); err != nil {
				return err
			}
			if done, err := output.EmitJSON(invitations); done {
				return err
			}
			rows := make([]table.Row, 0, len(invitations))
			for _, invitation := range invitations {
				inviter := ""
				if !invitation.Inviter.IsZero() {
					inviter = invitation.Inviter.String()
				}
				invited := ""
				if !invitation.Timestamp.IsZero() {
					invited = invitation.Timestamp.Local().Format("2006-01-02 15:04")
				}
				rows = append(rows, table.Row{invitation.RoomID, invitation.RoomName, inviter, invited})
			}
			cli.WriteTable(table.Row{"Room", "Name", "Inviter", "Invited"}, rows)
			return nil
		},
	}
}

func invitationDecisionCommand(name, summary, action, past string) *cli.Command {
	var conn connection
	usage := fmt.Sprintf("switchboard invitations %s <room-id>", name)
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   usage + " [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, usage); err != nil {
				return err
			}
			if err := conn.call(action, map[string]any{"room_id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "%s invitation to %s\n", past, args[0])
			return nil
		},
	}
}
