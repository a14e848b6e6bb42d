// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"

	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
)

// Session is the authenticated homeserver surface the brain uses.
// *DirectSession implements it over HTTP.
type Session interface {
	// UserID returns the account this session acts as.
	UserID() ref.UserID

	// Close releases resources held by the session. Idempotent.
	Close() error

	WhoAmI(ctx context.Context) (ref.UserID, error)

	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)

	// GetStateEvent returns the raw content of one state event, or a
	// *MatrixError with M_NOT_FOUND when it does not exist.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)

	SendMessage(ctx context.Context, roomID ref.RoomID, content schema.MessageContent) (ref.EventID, error)

	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	// JoinRoom joins (or accepts an invite to) a room.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// LeaveRoom leaves a room, or rejects a pending invite to it.
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error

	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)

	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error)

	GetDisplayName(ctx context.Context, userID ref.UserID) (string, error)

	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

var _ Session = (*DirectSession)(nil)
