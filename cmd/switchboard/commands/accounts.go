// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/brain"
	"github.com/bureau-foundation/switchboard/classify"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
)

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Summary: "Manage homeserver accounts",
		Subcommands: []*cli.Command{
			accountsListCommand(),
			accountsCreateCommand(),
			accountsDeactivateCommand(),
			accountsResetPasswordCommand(),
		},
	}
}

func accountsListCommand() *cli.Command {
	var (
		conn   connection
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List accounts with their classified roles",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var accounts []classify.Account
			if err := conn.call(api.ActionAccountsList, nil, &accounts); err != nil {
				return err
			}
			if done, err := output.EmitJSON(accounts); done {
				return err
			}
			rows := make([]table.Row, 0, len(accounts))
			for _, account := range accounts {
				role := string(account.Role)
				if role == "" {
					role = "-"
				}
				linked := ""
				if !account.LinkedRoom.IsZero() {
					linked = account.LinkedRoom.String()
				}
				status := "active"
				if account.Deactivated {
					status = "deactivated"
				}
				rows = append(rows, table.Row{account.ID, role, account.WorkerType, linked, status})
			}
			cli.WriteTable(table.Row{"Account", "Role", "Worker Type", "Linked Room", "Status"}, rows)
			return nil
		},
	}
}

func accountsCreateCommand() *cli.Command {
	var (
		conn           connection
		output         cli.JSONOutput
		promptPassword bool
	)
	return &cli.Command{
		Name:    "create",
		Summary: "Create an account through the admin bot",
		Usage:   "switchboard accounts create <localpart> [flags]",
		Description: "Create an account through the admin bot. Without --prompt-password the\n" +
			"daemon generates a password and prints it once.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			output.AddFlag(flagSet)
			flagSet.BoolVar(&promptPassword, "prompt-password", false, "read the password from the terminal")
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "switchboard accounts create <localpart>"); err != nil {
				return err
			}
			fields := map[string]any{"localpart": args[0]}
			if promptPassword {
				password, err := readPassword()
				if err != nil {
					return err
				}
				fields["password"] = password
			}

			var created brain.CreatedAccount
			if err := conn.call(api.ActionAccountsCreate, fields, &created); err != nil {
				return err
			}
			if done, err := output.EmitJSON(created); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "created %s\n", created.UserID)
			if !promptPassword {
				fmt.Fprintf(cli.Stdout, "password: %s\n", created.Password)
			}
			return nil
		},
	}
}

// readPassword prompts on the terminal without echo.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--prompt-password requires a terminal on stdin")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func accountsDeactivateCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "deactivate",
		Summary: "Deactivate an account",
		Usage:   "switchboard accounts deactivate <user-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("deactivate", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "switchboard accounts deactivate <user-id>"); err != nil {
				return err
			}
			if err := conn.call(api.ActionAccountsDeactivate, map[string]any{"user_id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "deactivated %s\n", args[0])
			return nil
		},
	}
}

func accountsResetPasswordCommand() *cli.Command {
	var (
		conn           connection
		output         cli.JSONOutput
		promptPassword bool
	)
	return &cli.Command{
		Name:    "reset-password",
		Summary: "Set a new password for an account",
		Usage:   "switchboard accounts reset-password <user-id> [flags]",
		Description: "Set a new password through the admin bot and log out the account's\n" +
			"devices. Without --prompt-password the daemon generates a password and\n" +
			"prints it once.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reset-password", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			output.AddFlag(flagSet)
			flagSet.BoolVar(&promptPassword, "prompt-password", false, "read the password from the terminal")
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "switchboard accounts reset-password <user-id>"); err != nil {
				return err
			}
			fields := map[string]any{"user_id": args[0]}
			if promptPassword {
				password, err := readPassword()
				if err != nil {
					return err
				}
				fields["password"] = password
			}

			var reset brain.CreatedAccount
			if err := conn.call(api.ActionAccountsResetPassword, fields, &reset); err != nil {
				return err
			}
			if done, err := output.EmitJSON(reset); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "password reset for %s\n", reset.UserID)
			if !promptPassword {
				fmt.Fprintf(cli.Stdout, "password: %s\n", reset.Password)
			}
			return nil
		},
	}
}
