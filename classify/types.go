// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
)

// Role is what an account is to the brain.
type Role string

const (
	// RoleUnassigned is an account that belongs to no typed room.
	RoleUnassigned Role = ""

	RoleOwner     Role = "owner"
	RoleTest      Role = "test"
	RoleHuman     Role = "human"
	RoleWorker    Role = "worker"
	RoleSystemBot Role = "system-bot"
)

// precedence orders roles for accounts that appear in several typed
// rooms. Higher wins; ties keep the role from the room that sorts
// first.
func (r Role) precedence() int {
	switch r {
	case RoleSystemBot:
		return 5
	case RoleOwner:
		return 4
	case RoleWorker:
		return 3
	case RoleTest:
		return 2
	case RoleHuman:
		return 1
	}
	return 0
}

// roleForKind maps a room kind to the role of its non-owner members.
// Queue rooms assign no role.
func roleForKind(kind schema.RoomKind) (Role, bool) {
	switch kind {
	case schema.RoomKindTest:
		return RoleTest, true
	case schema.RoomKindHuman:
		return RoleHuman, true
	case schema.RoomKindWorker:
		return RoleWorker, true
	}
	return RoleUnassigned, false
}

// Account is a classified user.
type Account struct {
	ID          ref.UserID `json:"id"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        Role       `json:"role"`

	// LinkedRoom is the typed room the role came from.
	LinkedRoom ref.RoomID `json:"linked_room,omitzero"`

	WorkerType  string `json:"worker_type,omitempty"`
	Deactivated bool   `json:"deactivated,omitempty"`
}

// RoomInfo is a typed room.
type RoomInfo struct {
	ID         ref.RoomID      `json:"id"`
	Name       string          `json:"name,omitempty"`
	Kind       schema.RoomKind `json:"kind"`
	Owner      ref.UserID      `json:"owner,omitzero"`
	WorkerType string          `json:"worker_type,omitempty"`
	Members    []ref.UserID    `json:"members"`

	// OwnerPower reports whether the declared owner holds owner-level
	// power in the room.
	OwnerPower bool `json:"owner_power"`
}

// Snapshot is the result of one scan.
type Snapshot struct {
	Accounts map[ref.UserID]Account
	Rooms    map[ref.RoomID]RoomInfo

	// Gaps lists rooms whose state could not be read, sorted.
	Gaps []ref.RoomID
}
