// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable identifier types for the
// Matrix entities switchboard handles: users, rooms, room aliases, and
// events.
//
// Identifiers arrive from the homeserver as strings and are parsed into
// these types at the boundary (JSON decoding goes through
// encoding.TextUnmarshaler), so the rest of the code never handles a
// room ID that is actually a user ID. Every type is a comparable value
// usable as a map key; the zero value means "unset" and is reported by
// IsZero.
package ref
