// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminroom

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/switchboard/lib/ref"
)

// UserEntry is one line of the bot's user listing.
type UserEntry struct {
	ID          ref.UserID
	Deactivated bool
}

// RoomEntry is one line of the bot's room listing.
type RoomEntry struct {
	ID      ref.RoomID
	Name    string
	Members int
}

// run executes a command and rejects replies that report failure.
func (c *Channel) run(ctx context.Context, command string) (string, error) {
	reply, err := c.Execute(ctx, command)
	if err != nil {
		return "", err
	}
	if err := checkReply(commandName(command), reply); err != nil {
		return "", err
	}
	return reply, nil
}

// ListUsers returns every local account the homeserver knows. A line
// mentioning "deactivated" marks its account deactivated. Lines
// without a user ID are skipped.
func (c *Channel) ListUsers(ctx context.Context) ([]UserEntry, error) {
	reply, err := c.run(ctx, "!admin users list-users")
	if err != nil {
		return nil, err
	}
	var users []UserEntry
	for _, line := range ExtractBlock(reply) {
		for _, field := range strings.Fields(line) {
			userID, err := ref.ParseUserID(strings.Trim(field, "`,"))
			if err == nil {
				users = append(users, UserEntry{
					ID:          userID,
					Deactivated: strings.Contains(strings.ToLower(line), "deactivated"),
				})
				break
			}
		}
	}
	return users, nil
}

// ListRooms returns every room on the homeserver, whether or not the
// brain is a member. The listing format is
//
//	!room:server	Members: 3	Name: Queue
//
// with tabs or runs of spaces between columns; missing columns are
// left zero.
func (c *Channel) ListRooms(ctx context.Context) ([]RoomEntry, error) {
	reply, err := c.run(ctx, "!admin rooms list-rooms")
	if err != nil {
		return nil, err
	}
	var rooms []RoomEntry
	for _, line := range ExtractBlock(reply) {
		entry, ok := parseRoomLine(line)
		if ok {
			rooms = append(rooms, entry)
		}
	}
	return rooms, nil
}

func parseRoomLine(line string) (RoomEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return RoomEntry{}, false
	}
	roomID, err := ref.ParseRoomID(strings.Trim(fields[0], "`,"))
	if err != nil {
		return RoomEntry{}, false
	}
	entry := RoomEntry{ID: roomID}

	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	if index := strings.Index(rest, "Members:"); index >= 0 {
		countFields := strings.Fields(rest[index+len("Members:"):])
		if len(countFields) > 0 {
			entry.Members, _ = strconv.Atoi(countFields[0])
		}
	}
	if index := strings.Index(rest, "Name:"); index >= 0 {
		entry.Name = strings.TrimSpace(rest[index+len("Name:"):])
	}
	return entry, true
}

// CreateUser creates a local account with the given password and
// returns its user ID.
func (c *Channel) CreateUser(ctx context.Context, localpart, password string) (ref.UserID, error) {
	if localpart == "" || strings.ContainsAny(localpart, " \t\n") {
		return ref.UserID{}, fmt.Errorf("adminroom: invalid localpart %q", localpart)
	}
	if password == "" || strings.ContainsAny(password, " \t\n") {
		return ref.UserID{}, fmt.Errorf("adminroom: password must be non-empty and contain no whitespace")
	}
	if _, err := c.run(ctx, fmt.Sprintf("!admin users create-user %s %s", localpart, password)); err != nil {
		return ref.UserID{}, err
	}
	return ref.NewUserID(localpart, c.botUserID.Server())
}

// DeactivateUser deactivates an account. The account remains listed.
func (c *Channel) DeactivateUser(ctx context.Context, userID ref.UserID) error {
	_, err := c.run(ctx, "!admin users deactivate "+userID.String())
	return err
}

// ForceJoinRoom joins a user to a room without an invite.
func (c *Channel) ForceJoinRoom(ctx context.Context, userID ref.UserID, roomID ref.RoomID) error {
	_, err := c.run(ctx, fmt.Sprintf("!admin users force-join-room %s %s", userID, roomID))
	return err
}

// ResetPassword sets a new password and logs out the account's
// devices.
func (c *Channel) ResetPassword(ctx context.Context, userID ref.UserID, password string) error {
	if password == "" || strings.ContainsAny(password, " \t\n") {
		return fmt.Errorf("adminroom: password must be non-empty and contain no whitespace")
	}
	_, err := c.run(ctx, fmt.Sprintf("!admin users reset-password %s %s", userID, password))
	return err
}
