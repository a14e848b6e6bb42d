// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminroom

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout means no correlated bot reply arrived within the poll
	// budget. The command may still have been executed.
	ErrTimeout = errors.New("adminroom: no reply from admin bot")

	// ErrChannel wraps transport failures while discovering the room,
	// sending the command, or reading the timeline.
	ErrChannel = errors.New("adminroom: channel failure")
)

// CommandError is returned when the bot replied but the reply reports a
// failure. Command holds the command without its arguments so secrets
// passed as arguments never reach logs.
type CommandError struct {
	Command string
	Reply   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("adminroom: %s failed: %s", e.Command, e.Reply)
}

var errorIndicators = []string{
	"failed",
	"error",
	"invalid",
	"not found",
	"no such user",
	"could not",
	"unable to",
	"unknown command",
}

// checkReply returns a *CommandError when the prose of a reply (the
// text outside its fenced block) contains a failure indicator. Listing
// output inside the block is data and is not inspected.
func checkReply(command, reply string) error {
	if strings.TrimSpace(reply) == "" {
		return &CommandError{Command: command, Reply: "empty reply"}
	}
	prose := strings.ToLower(stripBlock(reply))
	for _, indicator := range errorIndicators {
		if strings.Contains(prose, indicator) {
			return &CommandError{Command: command, Reply: reply}
		}
	}
	return nil
}
