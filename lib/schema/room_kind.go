// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"

	"github.com/bureau-foundation/switchboard/lib/ref"
)

// RoomKind is the declared purpose of a room. The set is closed: a
// declaration naming anything else leaves the room untyped.
type RoomKind string

const (
	// RoomKindOwner is the private room between the brain and the
	// human who owns it.
	RoomKindOwner RoomKind = "owner"

	// RoomKindTest holds test accounts exercising the brain.
	RoomKindTest RoomKind = "test"

	// RoomKindHuman is a conversation with human users. Rooms the
	// router has never seen declared are treated as human.
	RoomKindHuman RoomKind = "human"

	// RoomKindWorker connects the brain to a worker process, which
	// answers prompts with prompt.response or error messages.
	RoomKindWorker RoomKind = "worker"

	// RoomKindQueue is the brain's work queue. Every conversational
	// turn passes through it in both directions.
	RoomKindQueue RoomKind = "queue"
)

var roomKinds = []RoomKind{RoomKindOwner, RoomKindTest, RoomKindHuman, RoomKindWorker, RoomKindQueue}

// RoomKinds returns every recognized kind.
func RoomKinds() []RoomKind {
	return append([]RoomKind(nil), roomKinds...)
}

// IsKnown reports whether k is one of the recognized kinds.
func (k RoomKind) IsKnown() bool {
	for _, known := range roomKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseRoomKind validates a kind string.
func ParseRoomKind(raw string) (RoomKind, error) {
	kind := RoomKind(raw)
	if !kind.IsKnown() {
		return "", fmt.Errorf("unknown room kind %q", raw)
	}
	return kind, nil
}

// RoomKindContent is the content of an m.switchboard.room_kind state
// event.
type RoomKindContent struct {
	Kind RoomKind `json:"kind"`

	// Owner is the account that owns the room. For owner rooms it is
	// the account classified as the owner.
	Owner ref.UserID `json:"owner,omitzero"`

	// WorkerType is the worker subtype for worker rooms ("code",
	// "research", ...). Free-form.
	WorkerType string `json:"worker_type,omitempty"`
}
