// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/syncengine"
)

func messageEvent(body string) Event {
	return Event{Kind: KindMessage, Message: &syncengine.Message{Body: body}}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	hub := NewHub(4, nil)
	first := hub.Subscribe()
	second := hub.Subscribe()
	defer first.Close()
	defer second.Close()

	hub.Broadcast(messageEvent("hello"))

	for _, subscription := range []*Subscription{first, second} {
		event := testutil.RequireReceive(t, subscription.Events(), time.Second, "waiting for broadcast")
		if event.Message.Body != "hello" {
			t.Errorf("body = %q", event.Message.Body)
		}
	}
}

func TestFullSubscriberIsDropped(t *testing.T) {
	hub := NewHub(2, nil)
	slow := hub.Subscribe()
	fast := hub.Subscribe()
	defer fast.Close()

	for _, body := range []string{"1", "2", "3"} {
		hub.Broadcast(messageEvent(body))
		testutil.RequireReceive(t, fast.Events(), time.Second, "fast subscriber keeps up")
	}

	// The slow subscriber holds its two buffered events, then sees
	// its channel closed.
	for range 2 {
		testutil.RequireReceive(t, slow.Events(), time.Second, "buffered event")
	}
	if _, open := <-slow.Events(); open {
		t.Error("slow subscriber should be dropped")
	}

	if count := hub.SubscriberCount(); count != 1 {
		t.Errorf("SubscriberCount = %d, want 1", count)
	}
	slow.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := NewHub(1, nil)
	subscription := hub.Subscribe()
	subscription.Close()
	subscription.Close()
	hub.Broadcast(messageEvent("after close"))
	if hub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", hub.SubscriberCount())
	}
}

func TestCallbacksIsolated(t *testing.T) {
	hub := NewHub(1, nil)
	var order []string
	hub.OnEvent(func(Event) error {
		order = append(order, "panics")
		panic("boom")
	})
	hub.OnEvent(func(Event) error {
		order = append(order, "fails")
		return errors.New("callback failure")
	})
	hub.OnEvent(func(Event) error {
		order = append(order, "succeeds")
		return nil
	})

	hub.Broadcast(messageEvent("x"))

	want := []string{"panics", "fails", "succeeds"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for index := range want {
		if order[index] != want[index] {
			t.Errorf("order = %v, want %v", order, want)
		}
	}
}

type fakeSource struct {
	messageListener    func(syncengine.Message)
	invitationListener func([]syncengine.Invitation)
}

func (s *fakeSource) OnMessage(listener func(syncengine.Message))          { s.messageListener = listener }
func (s *fakeSource) OnInvitations(listener func([]syncengine.Invitation)) { s.invitationListener = listener }

func TestBridge(t *testing.T) {
	hub := NewHub(4, nil)
	source := &fakeSource{}
	hub.Bridge(source)
	subscription := hub.Subscribe()
	defer subscription.Close()

	source.messageListener(syncengine.Message{Body: "routed"})
	source.invitationListener([]syncengine.Invitation{{RoomID: ref.MustParseRoomID("!r:switchboard.local")}})

	message := testutil.RequireReceive(t, subscription.Events(), time.Second, "message event")
	if message.Kind != KindMessage || message.Message.Body != "routed" {
		t.Errorf("event = %+v", message)
	}
	invitations := testutil.RequireReceive(t, subscription.Events(), time.Second, "invitations event")
	if invitations.Kind != KindInvitations || len(invitations.Invitations) != 1 {
		t.Errorf("event = %+v", invitations)
	}
}
