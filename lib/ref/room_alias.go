// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomAlias is a validated Matrix room alias (e.g., "#admins:brain.local").
// The only alias switchboard resolves itself is the homeserver's admin
// room; other aliases pass through from operator input.
type RoomAlias struct {
	alias string
}

// parseRoomAlias validates and wraps a raw Matrix room alias string.
func parseRoomAlias(raw string) (RoomAlias, error) {
	if _, _, err := parsePrefixedID(raw, '#', "room alias"); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{alias: raw}, nil
}

// AdminRoomAlias returns the well-known alias of the homeserver's
// built-in admin room on the given server.
func AdminRoomAlias(server string) (RoomAlias, error) {
	return parseRoomAlias("#admins:" + server)
}

// String returns the full alias string.
func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the RoomAlias is the zero value.
func (a RoomAlias) IsZero() bool { return a.alias == "" }

// Server returns the server name from the alias.
func (a RoomAlias) Server() string {
	if a.alias == "" {
		return ""
	}
	_, server, _ := parsePrefixedID(a.alias, '#', "room alias")
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (a RoomAlias) MarshalText() ([]byte, error) {
	return []byte(a.alias), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *RoomAlias) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = RoomAlias{}
		return nil
	}
	parsed, err := parseRoomAlias(string(data))
	if err != nil {
		return fmt.Errorf("room alias: %w", err)
	}
	*a = parsed
	return nil
}
