// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/bureau-foundation/switchboard/lib/ref"

// Standard Matrix event types.
const (
	MatrixEventTypeMessage     ref.EventType = "m.room.message"
	MatrixEventTypeMember      ref.EventType = "m.room.member"
	MatrixEventTypeRoomName    ref.EventType = "m.room.name"
	MatrixEventTypePowerLevels ref.EventType = "m.room.power_levels"
)

// EventTypeRoomKind declares a room's purpose. State key is "".
const EventTypeRoomKind ref.EventType = "m.switchboard.room_kind"

// MsgTypeText is the msgtype of every message switchboard sends,
// including admin-bot commands.
const MsgTypeText = "m.text"

// Membership values of m.room.member content.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
)

// RoomNameContent is the content of m.room.name.
type RoomNameContent struct {
	Name string `json:"name"`
}
