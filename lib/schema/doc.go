// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the Matrix event types and content structures
// switchboard reads and writes.
//
// [RoomKindContent] is the m.switchboard.room_kind state event that
// declares what a room is for. [MessageContent] is the m.room.message
// shape the router sends and receives, with the switchboard.intent and
// switchboard.payload extension fields; [Continuation] travels inside
// the payload so a reply can find its way back to the room that asked.
//
// This package depends only on lib/ref.
package schema
