// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagingtest

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
)

var (
	brain = ref.MustParseUserID("@brain:switchboard.local")
	alice = ref.MustParseUserID("@alice:switchboard.local")
	roomA = ref.MustParseRoomID("!a:switchboard.local")
)

func TestStateRoundTripAndNotFound(t *testing.T) {
	fake := New(brain, nil)
	fake.AddRoom(roomA, "Alpha")

	content, err := messaging.GetState[schema.RoomNameContent](context.Background(), fake, roomA, schema.MatrixEventTypeRoomName, "")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if content.Name != "Alpha" {
		t.Errorf("name = %q, want Alpha", content.Name)
	}

	_, err = fake.GetStateEvent(context.Background(), roomA, schema.EventTypeRoomKind, "")
	if !messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		t.Errorf("err = %v, want M_NOT_FOUND", err)
	}
}

func TestSendMessageRunsHook(t *testing.T) {
	fake := New(brain, nil)
	fake.AddRoom(roomA, "")
	fake.OnSend = func(roomID ref.RoomID, event messaging.Event) {
		fake.AddMessage(roomID, alice, schema.NewTextMessage("reply to "+event.Body()))
	}

	if _, err := fake.SendMessage(context.Background(), roomA, schema.NewTextMessage("ping")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	response, err := fake.RoomMessages(context.Background(), roomA, messaging.RoomMessagesOptions{Direction: "b", Limit: 10})
	if err != nil {
		t.Fatalf("RoomMessages: %v", err)
	}
	if len(response.Chunk) != 2 {
		t.Fatalf("chunk length = %d, want 2", len(response.Chunk))
	}
	if response.Chunk[0].Body() != "reply to ping" || response.Chunk[0].Sender != alice {
		t.Errorf("newest event = %+v", response.Chunk[0])
	}
	if len(fake.Sent()) != 1 {
		t.Errorf("sent = %d, want 1", len(fake.Sent()))
	}
}

func TestSendToUnjoinedRoomIsForbidden(t *testing.T) {
	fake := New(brain, nil)
	_, err := fake.SendMessage(context.Background(), roomA, schema.NewTextMessage("x"))
	if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Errorf("err = %v, want M_FORBIDDEN", err)
	}
}

func TestInviteLifecycle(t *testing.T) {
	fake := New(brain, nil)
	fake.AddInvite(roomA, alice, "Chat")

	initial, err := fake.Sync(context.Background(), messaging.SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, ok := initial.Rooms.Invite[roomA]; !ok {
		t.Fatal("initial sync missing invite")
	}

	if _, err := fake.JoinRoom(context.Background(), roomA); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if fake.HasInvite(roomA) || !fake.IsJoined(roomA) {
		t.Error("join should consume the invite")
	}
}

func TestIncrementalSyncBlocksUntilPushed(t *testing.T) {
	fake := New(brain, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := fake.Sync(ctx, messaging.SyncOptions{Since: "s"}); err == nil {
		t.Fatal("expected context error with empty queue")
	}

	fake.PushSync(&messaging.SyncResponse{})
	response, err := fake.Sync(context.Background(), messaging.SyncOptions{Since: "s"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if response.NextBatch == "" {
		t.Error("NextBatch should be filled in")
	}
}
