// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "valid simple", input: "!abc123:brain.local"},
		{name: "valid with port in server", input: "!opaque:localhost:6167"},
		{name: "empty string", input: "", wantErr: "empty room ID"},
		{name: "missing bang prefix", input: "abc123:brain.local", wantErr: "must start with '!'"},
		{name: "alias sigil", input: "#room:brain.local", wantErr: "must start with '!'"},
		{name: "missing server", input: "!abc123", wantErr: "missing ':server' suffix"},
		{name: "empty local part", input: "!:brain.local", wantErr: "empty local part"},
		{name: "empty server name", input: "!abc123:", wantErr: "empty server name"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			roomID, err := ParseRoomID(test.input)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseRoomID(%q) succeeded, want error containing %q", test.input, test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Errorf("ParseRoomID(%q) error = %q, want substring %q", test.input, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRoomID(%q): %v", test.input, err)
			}
			if roomID.String() != test.input {
				t.Errorf("String() = %q, want %q", roomID.String(), test.input)
			}
		})
	}
}

func TestParseUserID(t *testing.T) {
	userID, err := ParseUserID("@alice:brain.local")
	if err != nil {
		t.Fatalf("ParseUserID: %v", err)
	}
	if userID.Localpart() != "alice" {
		t.Errorf("Localpart() = %q, want alice", userID.Localpart())
	}
	if userID.Server() != "brain.local" {
		t.Errorf("Server() = %q, want brain.local", userID.Server())
	}

	for _, invalid := range []string{"", "alice:brain.local", "@:brain.local", "@alice", "@alice:"} {
		if _, err := ParseUserID(invalid); err == nil {
			t.Errorf("ParseUserID(%q) succeeded, want error", invalid)
		}
	}
}

func TestParseEventID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"$abc123xyz", false},
		{"$something:server.local", false},
		{"", true},
		{"!abc123", true},
		{"abc123", true},
		{"$", true},
	}

	for _, test := range tests {
		_, err := ParseEventID(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseEventID(%q): err=%v, wantErr=%v", test.input, err, test.wantErr)
		}
	}
}

func TestAdminRoomAlias(t *testing.T) {
	alias, err := AdminRoomAlias("brain.local")
	if err != nil {
		t.Fatalf("AdminRoomAlias: %v", err)
	}
	if alias.String() != "#admins:brain.local" {
		t.Errorf("alias = %q, want #admins:brain.local", alias)
	}
	if alias.Server() != "brain.local" {
		t.Errorf("Server() = %q, want brain.local", alias.Server())
	}
}

// Sync responses key rooms by room ID, so RoomID must work as a JSON
// map key in both directions.
func TestRoomIDAsJSONMapKey(t *testing.T) {
	input := []byte(`{"!a:brain.local": 1, "!b:brain.local": 2}`)
	var decoded map[RoomID]int
	if err := json.Unmarshal(input, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded[MustParseRoomID("!b:brain.local")] != 2 {
		t.Errorf("decoded = %v, want !b:brain.local -> 2", decoded)
	}

	encoded, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"!a:brain.local":1`) {
		t.Errorf("encoded = %s, missing !a:brain.local key", encoded)
	}

	if err := json.Unmarshal([]byte(`{"not-a-room": 1}`), &decoded); err == nil {
		t.Error("Unmarshal accepted an invalid room ID key")
	}
}

func TestUserIDJSONEmptyIsZero(t *testing.T) {
	var holder struct {
		Owner UserID `json:"owner"`
	}
	if err := json.Unmarshal([]byte(`{"owner": ""}`), &holder); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !holder.Owner.IsZero() {
		t.Errorf("Owner = %q, want zero value", holder.Owner)
	}
}
