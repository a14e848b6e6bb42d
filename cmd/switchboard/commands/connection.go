// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/lib/service"
)

// callTimeout bounds one control socket call. Provisioning start waits
// up to a minute for container health.
const callTimeout = 2 * time.Minute

// connection holds the --socket flag shared by socket-backed commands.
type connection struct {
	socketPath string
}

func defaultSocketPath() string {
	if path := os.Getenv("SWITCHBOARD_SOCKET"); path != "" {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".cache", "switchboard", "switchboard.sock")
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socketPath, "socket", defaultSocketPath(), "daemon control socket (default $SWITCHBOARD_SOCKET)")
}

// call sends one action and decodes the response into result.
func (c *connection) call(action string, fields map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return service.NewSocketClient(c.socketPath).Call(ctx, action, fields, result)
}

// requireArgs fails unless exactly count positional args were given.
func requireArgs(args []string, count int, usage string) error {
	if len(args) != count {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}
