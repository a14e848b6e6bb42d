// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminroom

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
)

// adminRoomName is the name given to a room created by the last
// discovery step. It matches the name heuristic so a scan finds it
// again if the stored ID is lost.
const adminRoomName = "Switchboard Admin"

// Discover returns the admin room, discovering it on first use. The
// order is:
//
//  1. the stored room ID, if the bot is still joined there
//  2. a joined room shared with the bot whose name contains "admin"
//  3. any other joined room shared with the bot
//  4. the server's #admins alias, joined
//  5. a new direct room with the bot
func (c *Channel) Discover(ctx context.Context) (ref.RoomID, error) {
	c.discoverMu.Lock()
	defer c.discoverMu.Unlock()
	if cached := c.CachedRoomID(); !cached.IsZero() {
		return cached, nil
	}

	roomID, source, err := c.discover(ctx)
	if err != nil {
		return ref.RoomID{}, err
	}
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
	c.logger.Info("admin room resolved",
		"room_id", roomID,
		"source", source,
		"bot", c.botUserID,
	)
	if roomID != c.storedRoom && c.onDiscover != nil {
		c.onDiscover(roomID)
	}
	c.storedRoom = roomID
	return roomID, nil
}

func (c *Channel) discover(ctx context.Context) (ref.RoomID, string, error) {
	if !c.storedRoom.IsZero() {
		joined, err := c.botJoined(ctx, c.storedRoom)
		if err != nil {
			c.logger.Warn("stored admin room unreadable, rescanning",
				"room_id", c.storedRoom,
				"error", err,
			)
		} else if joined {
			return c.storedRoom, "stored", nil
		}
	}

	rooms, err := c.session.JoinedRooms(ctx)
	if err != nil {
		return ref.RoomID{}, "", fmt.Errorf("%w: listing joined rooms: %w", ErrChannel, err)
	}
	var fallback ref.RoomID
	for _, roomID := range rooms {
		joined, err := c.botJoined(ctx, roomID)
		if err != nil {
			c.logger.Debug("skipping unreadable room during admin scan", "room_id", roomID, "error", err)
			continue
		}
		if !joined {
			continue
		}
		if strings.Contains(strings.ToLower(c.roomName(ctx, roomID)), "admin") {
			return roomID, "scan", nil
		}
		if fallback.IsZero() {
			fallback = roomID
		}
	}
	if !fallback.IsZero() {
		return fallback, "scan-fallback", nil
	}

	if roomID, ok := c.joinAlias(ctx); ok {
		return roomID, "alias", nil
	}

	response, err := c.session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:     adminRoomName,
		Preset:   "trusted_private_chat",
		IsDirect: true,
		Invite:   []ref.UserID{c.botUserID},
	})
	if err != nil {
		return ref.RoomID{}, "", fmt.Errorf("%w: creating admin room: %w", ErrChannel, err)
	}
	return response.RoomID, "created", nil
}

// joinAlias resolves #admins:<bot server> and joins it. Failures are
// not errors: the caller falls through to creating a room.
func (c *Channel) joinAlias(ctx context.Context) (ref.RoomID, bool) {
	alias, err := ref.AdminRoomAlias(c.botUserID.Server())
	if err != nil {
		return ref.RoomID{}, false
	}
	roomID, err := c.session.ResolveAlias(ctx, alias)
	if err != nil {
		c.logger.Debug("admin room alias unavailable", "alias", alias, "error", err)
		return ref.RoomID{}, false
	}
	if _, err := c.session.JoinRoom(ctx, roomID); err != nil {
		c.logger.Warn("cannot join admin room alias", "alias", alias, "room_id", roomID, "error", err)
		return ref.RoomID{}, false
	}
	return roomID, true
}

func (c *Channel) botJoined(ctx context.Context, roomID ref.RoomID) (bool, error) {
	members, err := c.session.GetRoomMembers(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member.UserID == c.botUserID && member.Membership == schema.MembershipJoin {
			return true, nil
		}
	}
	return false, nil
}

func (c *Channel) roomName(ctx context.Context, roomID ref.RoomID) string {
	content, err := messaging.GetState[schema.RoomNameContent](ctx, c.session, roomID, schema.MatrixEventTypeRoomName, "")
	if err != nil {
		return ""
	}
	return content.Name
}
