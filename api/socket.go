// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"

	"github.com/bureau-foundation/switchboard/brain"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/service"
)

// UserRequest names one account.
type UserRequest struct {
	UserID ref.UserID `json:"user_id" cbor:"user_id"`
}

// RoomRequest names one room.
type RoomRequest struct {
	RoomID ref.RoomID `json:"room_id" cbor:"room_id"`
}

// RoomInviteRequest names an account and a room, for invites and
// force-joins.
type RoomInviteRequest struct {
	RoomID ref.RoomID `json:"room_id" cbor:"room_id"`
	UserID ref.UserID `json:"user_id" cbor:"user_id"`
}

// decoded adapts a typed handler to a service.ActionFunc. The request
// struct is decoded from the full CBOR request; the action field is
// ignored by field matching.
func decoded[Request any](handle func(ctx context.Context, request Request) (any, error)) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request Request
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return handle(ctx, request)
	}
}

// RegisterActions registers every control operation on server.
func RegisterActions(server *service.SocketServer, control Control) {
	server.Handle(ActionStatus, func(ctx context.Context, raw []byte) (any, error) {
		return StatusResponse{
			Status:             "ok",
			UserID:             control.UserID().String(),
			PendingInvitations: len(control.PendingInvitations()),
		}, nil
	})

	server.Handle(ActionAccountsList, func(ctx context.Context, raw []byte) (any, error) {
		return control.ListAccounts(ctx)
	})
	server.Handle(ActionAccountsCreate, decoded(func(ctx context.Context, request brain.CreateAccountRequest) (any, error) {
		return control.CreateAccount(ctx, request)
	}))
	server.Handle(ActionAccountsDeactivate, decoded(func(ctx context.Context, request UserRequest) (any, error) {
		return nil, control.DeactivateAccount(ctx, request.UserID)
	}))
	server.Handle(ActionAccountsResetPassword, decoded(func(ctx context.Context, request brain.ResetPasswordRequest) (any, error) {
		return control.ResetPassword(ctx, request)
	}))

	server.Handle(ActionRoomsList, func(ctx context.Context, raw []byte) (any, error) {
		return control.ListRooms(ctx)
	})
	server.Handle(ActionRoomsCreate, decoded(func(ctx context.Context, request brain.CreateRoomRequest) (any, error) {
		roomID, err := control.CreateRoom(ctx, request)
		if err != nil {
			return nil, err
		}
		return CreateRoomResponse{RoomID: roomID}, nil
	}))
	server.Handle(ActionRoomsInvite, decoded(func(ctx context.Context, request RoomInviteRequest) (any, error) {
		return nil, control.InviteToRoom(ctx, request.RoomID, request.UserID)
	}))
	server.Handle(ActionRoomsForceJoin, decoded(func(ctx context.Context, request RoomInviteRequest) (any, error) {
		return nil, control.ForceJoinRoom(ctx, request.RoomID, request.UserID)
	}))

	server.Handle(ActionInvitationsList, func(ctx context.Context, raw []byte) (any, error) {
		return control.PendingInvitations(), nil
	})
	server.Handle(ActionInvitationsAccept, decoded(func(ctx context.Context, request RoomRequest) (any, error) {
		return nil, control.AcceptInvitation(ctx, request.RoomID)
	}))
	server.Handle(ActionInvitationsReject, decoded(func(ctx context.Context, request RoomRequest) (any, error) {
		return nil, control.RejectInvitation(ctx, request.RoomID)
	}))

	server.Handle(ActionProvisionPreflight, func(ctx context.Context, raw []byte) (any, error) {
		return control.RunPreflight(ctx)
	})
	server.Handle(ActionProvisionConfigure, decoded(func(ctx context.Context, request ConfigureRequest) (any, error) {
		return control.Configure(ctx, request.Params, provisionOptions(request))
	}))
	server.Handle(ActionProvisionPull, func(ctx context.Context, raw []byte) (any, error) {
		return nil, control.Pull(ctx)
	})
	server.Handle(ActionProvisionStart, func(ctx context.Context, raw []byte) (any, error) {
		return nil, control.Start(ctx)
	})
	server.Handle(ActionProvisionVerify, decoded(func(ctx context.Context, request VerifyRequest) (any, error) {
		return control.Verify(ctx, request.URL)
	}))
	server.Handle(ActionProvisionStatus, func(ctx context.Context, raw []byte) (any, error) {
		return control.ProvisionStatus(ctx)
	})
}
