// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"time"

	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
)

// Message is a chat message observed in a joined room.
type Message struct {
	RoomID    ref.RoomID     `json:"room_id"`
	EventID   ref.EventID    `json:"event_id"`
	Sender    ref.UserID     `json:"sender"`
	Body      string         `json:"body"`
	Intent    schema.Intent  `json:"intent,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Invitation is a pending invite for the brain account.
type Invitation struct {
	RoomID   ref.RoomID `json:"room_id"`
	Inviter  ref.UserID `json:"inviter,omitzero"`
	RoomName string     `json:"room_name,omitempty"`

	// Timestamp is zero when the homeserver strips it from invite
	// state.
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// messageFromEvent converts a timeline event. The switchboard
// extension fields are optional; a malformed intent or payload is
// dropped rather than failing the message.
func messageFromEvent(roomID ref.RoomID, event messaging.Event) Message {
	message := Message{
		RoomID:    roomID,
		EventID:   event.EventID,
		Sender:    event.Sender,
		Body:      event.Body(),
		Timestamp: time.UnixMilli(event.OriginServerTS).UTC(),
	}
	if intent, ok := event.Content[schema.FieldIntent].(string); ok {
		message.Intent = schema.Intent(intent)
	}
	if payload, ok := event.Content[schema.FieldPayload].(map[string]any); ok {
		message.Payload = payload
	}
	return message
}

// invitationFromState reads the inviter, room name, and invite time
// from an invited room's stripped state.
func invitationFromState(brain ref.UserID, roomID ref.RoomID, room messaging.InvitedRoom) Invitation {
	invitation := Invitation{RoomID: roomID}
	for _, event := range room.InviteState.Events {
		switch event.Type {
		case schema.MatrixEventTypeMember:
			if event.StateKey == nil || *event.StateKey != brain.String() {
				continue
			}
			if membership, _ := event.Content["membership"].(string); membership != schema.MembershipInvite {
				continue
			}
			invitation.Inviter = event.Sender
			if event.OriginServerTS > 0 {
				invitation.Timestamp = time.UnixMilli(event.OriginServerTS).UTC()
			}
		case schema.MatrixEventTypeRoomName:
			if name, ok := event.Content["name"].(string); ok {
				invitation.RoomName = name
			}
		}
	}
	return invitation
}
