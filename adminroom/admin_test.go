// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminroom

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/bureau-foundation/switchboard/lib/ref"
)

func TestExtractBlock(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "fenced with info string",
			body: "Found 2 users:\n```text\n@a:s\n\n  @b:s  \n```\ntrailer",
			want: []string{"@a:s", "@b:s"},
		},
		{
			name: "no fence",
			body: " one \ntwo\n",
			want: []string{"one", "two"},
		},
		{
			name: "only first block",
			body: "```\nfirst\n```\n```\nsecond\n```",
			want: []string{"first"},
		},
		{
			name: "unterminated",
			body: "```\nx\ny",
			want: []string{"x", "y"},
		},
		{
			name: "empty block",
			body: "```\n```",
			want: nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ExtractBlock(test.body); !slices.Equal(got, test.want) {
				t.Errorf("ExtractBlock = %q, want %q", got, test.want)
			}
		})
	}
}

func TestListUsers(t *testing.T) {
	h := newHarness(t)
	h.replyWith("Found 3 local user account(s):\n```\n@brain:switchboard.local\n@alice:switchboard.local (deactivated)\nnot-a-user\n@conduit:switchboard.local\n```")

	users, err := h.channel.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	want := []UserEntry{{ID: brain}, {ID: human, Deactivated: true}, {ID: bot}}
	if !slices.Equal(users, want) {
		t.Errorf("users = %v, want %v", users, want)
	}
}

func TestListRooms(t *testing.T) {
	h := newHarness(t)
	h.replyWith("Rooms (2):\n```\n!q:switchboard.local\tMembers: 3\tName: Work Queue\n!bare:switchboard.local\n```")

	rooms, err := h.channel.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
	if rooms[0].ID.String() != "!q:switchboard.local" || rooms[0].Members != 3 || rooms[0].Name != "Work Queue" {
		t.Errorf("rooms[0] = %+v", rooms[0])
	}
	if rooms[1].Name != "" || rooms[1].Members != 0 {
		t.Errorf("rooms[1] = %+v", rooms[1])
	}
}

func TestCommandErrorFromReply(t *testing.T) {
	h := newHarness(t)
	h.replyWith("Failed to deactivate: no such user")

	err := h.channel.DeactivateUser(context.Background(), ref.MustParseUserID("@ghost:switchboard.local"))
	var commandErr *CommandError
	if !errors.As(err, &commandErr) {
		t.Fatalf("err = %v, want *CommandError", err)
	}
	if commandErr.Command != "!admin users deactivate" {
		t.Errorf("Command = %q", commandErr.Command)
	}
}

func TestErrorWordsInsideBlockAreData(t *testing.T) {
	h := newHarness(t)
	h.replyWith("Found 1 local user account(s):\n```\n@error-bot:switchboard.local\n```")

	users, err := h.channel.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("users = %v", users)
	}
}

func TestCreateUser(t *testing.T) {
	h := newHarness(t)
	h.replyWith("Created user with user_id: @worker1:switchboard.local and password: `s3cret`")

	userID, err := h.channel.CreateUser(context.Background(), "worker1", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if userID.String() != "@worker1:switchboard.local" {
		t.Errorf("userID = %s", userID)
	}
	sent := h.session.Sent()
	if len(sent) != 1 || sent[0].Content.Body != "!admin users create-user worker1 s3cret" {
		t.Errorf("sent = %+v", sent)
	}

	if _, err := h.channel.CreateUser(context.Background(), "bad name", "x"); err == nil {
		t.Error("expected error for localpart with whitespace")
	}
}

func TestForceJoinRoomCommand(t *testing.T) {
	h := newHarness(t)
	h.replyWith("@alice:switchboard.local has been joined to !q:switchboard.local.")

	if err := h.channel.ForceJoinRoom(context.Background(), human, ref.MustParseRoomID("!q:switchboard.local")); err != nil {
		t.Fatalf("ForceJoinRoom: %v", err)
	}
	sent := h.session.Sent()
	if sent[0].Content.Body != "!admin users force-join-room @alice:switchboard.local !q:switchboard.local" {
		t.Errorf("command = %q", sent[0].Content.Body)
	}
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t)
	h.replyWith("Successfully reset the password for user @alice:switchboard.local: `n3w`")

	if err := h.channel.ResetPassword(context.Background(), human, "n3w"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	sent := h.session.Sent()
	if len(sent) != 1 || sent[0].Content.Body != "!admin users reset-password @alice:switchboard.local n3w" {
		t.Errorf("sent = %+v", sent)
	}

	if err := h.channel.ResetPassword(context.Background(), human, ""); err == nil {
		t.Error("expected error for empty password")
	}
}
