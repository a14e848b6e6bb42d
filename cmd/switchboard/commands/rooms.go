// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/classify"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
)

func roomsCommand() *cli.Command {
	return &cli.Command{
		Name:    "rooms",
		Summary: "Manage typed rooms",
		Subcommands: []*cli.Command{
			roomsListCommand(),
			roomsCreateCommand(),
			roomsInviteCommand(),
			roomsForceJoinCommand(),
		},
	}
}

func roomsListCommand() *cli.Command {
	var (
		conn   connection
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List rooms that declare a kind",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var rooms []classify.RoomInfo
			if err := conn.call(api.ActionRoomsList, nil, &rooms); err != nil {
				return err
			}
			if done, err := output.EmitJSON(rooms); done {
				return err
			}
			cli.WriteTable(table.Row{"Room", "Name", "Kind", "Owner", "Members"}, roomRows(rooms))
			return nil
		},
	}
}

func roomRows(rooms []classify.RoomInfo) []table.Row {
	rows := make([]table.Row, 0, len(rooms))
	for _, room := range rooms {
		kind := string(room.Kind)
		if room.WorkerType != "" {
			kind += " (" + room.WorkerType + ")"
		}
		owner := ""
		if !room.Owner.IsZero() {
			owner = room.Owner.String()
			if !room.OwnerPower {
				owner += " (no power)"
			}
		}
		members := make([]string, 0, len(room.Members))
		for _, member := range room.Members {
			members = append(members, member.String())
		}
		rows = append(rows, table.Row{room.ID, room.Name, kind, owner, strings.Join(members, ", ")})
	}
	return rows
}

func roomsCreateCommand() *cli.Command {
	var (
		conn       connection
		output     cli.JSONOutput
		kind       string
		topic      string
		owner      string
		workerType string
		invite     []string
	)
	return &cli.Command{
		Name:    "create",
		Summary: "Create a typed room",
		Usage:   "switchboard rooms create <name> --kind <kind> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			output.AddFlag(flagSet)
			flagSet.StringVar(&kind, "kind", "", "room kind: owner, test, human, worker, or queue (required)")
			flagSet.StringVar(&topic, "topic", "", "room topic")
			flagSet.StringVar(&owner, "owner", "", "owning account, invited and granted owner power")
			flagSet.StringVar(&workerType, "worker-type", "", "worker type recorded on worker rooms")
			flagSet.StringSliceVar(&invite, "invite", nil, "accounts to invite (repeatable)")
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "switchboard rooms create <name> --kind <kind>"); err != nil {
				return err
			}
			if kind == "" {
				return fmt.Errorf("--kind is required")
			}
			fields := map[string]any{"name": args[0], "kind": kind}
			if topic != "" {
				fields["topic"] = topic
			}
			if owner != "" {
				fields["owner"] = owner
			}
			if workerType != "" {
				fields["worker_type"] = workerType
			}
			if len(invite) > 0 {
				fields["invite"] = invite
			}

			var created api.CreateRoomResponse
			if err := conn.call(api.ActionRoomsCreate, fields, &created); err != nil {
				return err
			}
			if done, err := output.EmitJSON(created); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "created %s room %s\n", kind, created.RoomID)
			return nil
		},
	}
}

func roomsInviteCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "invite",
		Summary: "Invite an account to a room",
		Usage:   "switchboard rooms invite <room-id> <user-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("invite", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 2, "switchboard rooms invite <room-id> <user-id>"); err != nil {
				return err
			}
			fields := map[string]any{"room_id": args[0], "user_id": args[1]}
			if err := conn.call(api.ActionRoomsInvite, fields, nil); err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "invited %s to %s\n", args[1], args[0])
			return nil
		},
	}
}

func roomsForceJoinCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "force-join",
		Summary: "Join an account to a room through the admin bot",
		Usage:   "switchboard rooms force-join <room-id> <user-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("force-join", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 2, "switchboard rooms force-join <room-id> <user-id>"); err != nil {
				return err
			}
			fields := map[string]any{"room_id": args[0], "user_id": args[1]}
			if err := conn.call(api.ActionRoomsForceJoin, fields, nil); err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "joined %s to %s\n", args[1], args[0])
			return nil
		},
	}
}
