// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the brain over HTTP (JSON routes and a
// Server-Sent Events stream under /api/v1) and over the daemon's CBOR
// control socket.
package api

import (
	"context"

	"github.com/bureau-foundation/switchboard/brain"
	"github.com/bureau-foundation/switchboard/classify"
	"github.com/bureau-foundation/switchboard/fanout"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/provision"
	"github.com/bureau-foundation/switchboard/syncengine"
)

// Control is the operation surface both transports serve.
// *brain.Brain implements it.
type Control interface {
	UserID() ref.UserID

	ListAccounts(ctx context.Context) ([]classify.Account, error)
	CreateAccount(ctx context.Context, request brain.CreateAccountRequest) (*brain.CreatedAccount, error)
	DeactivateAccount(ctx context.Context, userID ref.UserID) error
	ResetPassword(ctx context.Context, request brain.ResetPasswordRequest) (*brain.CreatedAccount, error)

	ListRooms(ctx context.Context) ([]classify.RoomInfo, error)
	CreateRoom(ctx context.Context, request brain.CreateRoomRequest) (ref.RoomID, error)
	InviteToRoom(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error
	ForceJoinRoom(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	PendingInvitations() []syncengine.Invitation
	AcceptInvitation(ctx context.Context, roomID ref.RoomID) error
	RejectInvitation(ctx context.Context, roomID ref.RoomID) error

	SubscribeEvents() *fanout.Subscription

	RunPreflight(ctx context.Context) (*provision.PreflightResult, error)
	Configure(ctx context.Context, params provision.Params, options provision.ConfigureOptions) (*provision.ConfigureResult, error)
	Pull(ctx context.Context) error
	Start(ctx context.Context) error
	Verify(ctx context.Context, url string) (*provision.VerifyResult, error)
	ProvisionStatus(ctx context.Context) (*provision.Status, error)
}

var _ Control = (*brain.Brain)(nil)

// Control socket action names.
const (
	ActionAccountsList          = "accounts.list"
	ActionAccountsCreate        = "accounts.create"
	ActionAccountsDeactivate    = "accounts.deactivate"
	ActionAccountsResetPassword = "accounts.reset_password"

	ActionRoomsList      = "rooms.list"
	ActionRoomsCreate    = "rooms.create"
	ActionRoomsInvite    = "rooms.invite"
	ActionRoomsForceJoin = "rooms.force_join"

	ActionInvitationsList   = "invitations.list"
	ActionInvitationsAccept = "invitations.accept"
	ActionInvitationsReject = "invitations.reject"

	ActionProvisionPreflight = "provision.preflight"
	ActionProvisionConfigure = "provision.configure"
	ActionProvisionPull      = "provision.pull"
	ActionProvisionStart     = "provision.start"
	ActionProvisionVerify    = "provision.verify"
	ActionProvisionStatus    = "provision.status"

	ActionStatus = "status"
)

// ConfigureRequest is the body of provision.configure on both
// transports.
type ConfigureRequest struct {
	provision.Params

	Confirm bool `json:"confirm,omitempty" cbor:"confirm,omitempty"`
}

// InviteRequest names the account to invite.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id" cbor:"user_id"`
}

// VerifyRequest names the homeserver to verify. Empty means the
// locally provisioned one.
type VerifyRequest struct {
	URL string `json:"url,omitempty" cbor:"url,omitempty"`
}

// StatusResponse answers the status action and GET /healthz.
type StatusResponse struct {
	Status             string `json:"status" cbor:"status"`
	UserID             string `json:"user_id" cbor:"user_id"`
	PendingInvitations int    `json:"pending_invitations" cbor:"pending_invitations"`
}

// CreateRoomResponse is returned by room creation.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id" cbor:"room_id"`
}

func provisionOptions(request ConfigureRequest) provision.ConfigureOptions {
	return provision.ConfigureOptions{Confirm: request.Confirm}
}
