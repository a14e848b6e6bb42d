// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package brain

import (
	"errors"

	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("brain: invalid request")

	// ErrNoProvisioner is returned by provisioning operations when the
	// daemon runs against an externally managed homeserver.
	ErrNoProvisioner = errors.New("brain: provisioning is not enabled")

	// ErrNoInvitation is returned when accepting or rejecting a room
	// with no pending invitation.
	ErrNoInvitation = errors.New("brain: no pending invitation for room")
)

// CreateAccountRequest registers an account through the admin bot.
type CreateAccountRequest struct {
	Localpart string `json:"localpart" cbor:"localpart" validate:"required,max=255"`

	// Password is generated when empty.
	Password string `json:"password,omitempty" cbor:"password,omitempty" validate:"omitempty,min=8"`
}

// CreatedAccount is a registered account. Password is returned once.
type CreatedAccount struct {
	UserID   ref.UserID `json:"user_id" cbor:"user_id"`
	Password string     `json:"password" cbor:"password"`
}

// ResetPasswordRequest sets a new password for an existing account.
type ResetPasswordRequest struct {
	UserID ref.UserID `json:"user_id" cbor:"user_id"`

	// Password is generated when empty.
	Password string `json:"password,omitempty" cbor:"password,omitempty" validate:"omitempty,min=8"`
}

// CreateRoomRequest creates a typed room.
type CreateRoomRequest struct {
	Name  string          `json:"name" cbor:"name" validate:"required,max=255"`
	Topic string          `json:"topic,omitempty" cbor:"topic,omitempty"`
	Kind  schema.RoomKind `json:"kind" cbor:"kind" validate:"required,oneof=owner test human worker queue"`

	// Owner is required for owner rooms and receives owner power.
	Owner ref.UserID `json:"owner,omitzero" cbor:"owner,omitempty"`

	WorkerType string       `json:"worker_type,omitempty" cbor:"worker_type,omitempty"`
	Invite     []ref.UserID `json:"invite,omitempty" cbor:"invite,omitempty"`
}
