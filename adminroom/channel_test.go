// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminroom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/messaging"
	"github.com/bureau-foundation/switchboard/messaging/messagingtest"
)

var (
	epoch     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	brain     = ref.MustParseUserID("@brain:switchboard.local")
	bot       = ref.MustParseUserID("@conduit:switchboard.local")
	human     = ref.MustParseUserID("@alice:switchboard.local")
	adminRoom = ref.MustParseRoomID("!admin:switchboard.local")
)

type harness struct {
	clock   *clock.FakeClock
	session *messagingtest.FakeSession
	channel *Channel
}

// newHarness creates a fake session with an admin room shared with the
// bot, and a Channel over it.
func newHarness(t *testing.T) *harness {
	t.Helper()
	fakeClock := clock.Fake(epoch)
	session := messagingtest.New(brain, fakeClock)
	session.AddRoom(adminRoom, "Admin Room")
	session.AddMember(adminRoom, bot, schema.MembershipJoin)

	channel, err := New(Config{
		Session:   session,
		BotUserID: bot,
		Clock:     fakeClock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{clock: fakeClock, session: session, channel: channel}
}

// replyWith makes the bot answer every command immediately.
func (h *harness) replyWith(body string) {
	h.session.OnSend = func(roomID ref.RoomID, event messaging.Event) {
		h.session.AddMessage(roomID, bot, schema.NewTextMessage(body))
	}
}

func TestNewRequiresSessionAndBot(t *testing.T) {
	if _, err := New(Config{BotUserID: bot}); err == nil {
		t.Error("expected error without Session")
	}
	if _, err := New(Config{Session: messagingtest.New(brain, nil)}); err == nil {
		t.Error("expected error without BotUserID")
	}
}

func TestExecuteImmediateReply(t *testing.T) {
	h := newHarness(t)
	h.replyWith("pong")

	reply, err := h.channel.Execute(context.Background(), "!admin server ping")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q, want pong", reply)
	}
	sent := h.session.Sent()
	if len(sent) != 1 || sent[0].Content.Body != "!admin server ping" || sent[0].RoomID != adminRoom {
		t.Errorf("sent = %+v", sent)
	}
}

func TestExecuteSkipsAnchorWithSameTimestamp(t *testing.T) {
	h := newHarness(t)
	// Same timestamp as the upcoming send: only its place before the
	// command keeps it from being taken as the reply.
	h.session.AddMessage(adminRoom, bot, schema.NewTextMessage("previous reply"))

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := h.channel.Execute(context.Background(), "!admin users list-users")
		done <- result{reply, err}
	}()

	h.clock.WaitForTimers(1)
	h.session.AddMessage(adminRoom, bot, schema.NewTextMessage("fresh reply"))
	h.clock.Advance(500 * time.Millisecond)

	got := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Execute")
	if got.err != nil {
		t.Fatalf("Execute: %v", got.err)
	}
	if got.reply != "fresh reply" {
		t.Errorf("reply = %q, want fresh reply", got.reply)
	}
}

func TestExecuteNeverReturnsOlderReply(t *testing.T) {
	h := newHarness(t)
	h.session.AddMessage(adminRoom, bot, schema.NewTextMessage("stale reply"))
	// A later human message becomes the anchor. The stale bot message
	// precedes the command and is never a candidate.
	h.session.AddMessage(adminRoom, human, schema.NewTextMessage("hello"))
	h.clock.Advance(time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := h.channel.Execute(context.Background(), "!admin users list-users")
		done <- err
	}()

	for range defaultAttempts - 1 {
		h.clock.WaitForTimers(1)
		h.clock.Advance(defaultInterval)
	}

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Execute")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestExecuteIgnoresNonBotSenders(t *testing.T) {
	h := newHarness(t)
	h.session.OnSend = func(roomID ref.RoomID, event messaging.Event) {
		h.session.AddMessage(roomID, human, schema.NewTextMessage("not the bot"))
		h.session.AddMessage(roomID, bot, schema.NewTextMessage("the bot"))
		h.session.AddMessage(roomID, human, schema.NewTextMessage("also not the bot"))
	}

	reply, err := h.channel.Execute(context.Background(), "!admin server ping")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply != "the bot" {
		t.Errorf("reply = %q, want the bot", reply)
	}
}

func TestExecuteSendFailureIsChannelError(t *testing.T) {
	h := newHarness(t)
	h.session.FailWith("SendMessage", &messaging.MatrixError{Code: messaging.ErrCodeForbidden, StatusCode: 403})

	_, err := h.channel.Execute(context.Background(), "!admin server ping")
	if !errors.Is(err, ErrChannel) {
		t.Fatalf("err = %v, want ErrChannel", err)
	}
	if !h.channel.CachedRoomID().IsZero() {
		t.Error("forbidden send should drop the cached admin room")
	}
}

func TestExecuteRediscoversAfterForbiddenSend(t *testing.T) {
	h := newHarness(t)
	var discovered []ref.RoomID
	channel, err := New(Config{
		Session:    h.session,
		BotUserID:  bot,
		Clock:      h.clock,
		OnDiscover: func(roomID ref.RoomID) { discovered = append(discovered, roomID) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	forbidden := &messaging.MatrixError{Code: messaging.ErrCodeForbidden, StatusCode: 403}
	h.session.FailWith("SendMessage", forbidden)
	if _, err := channel.Execute(context.Background(), "!admin server ping"); !errors.Is(err, ErrChannel) {
		t.Fatalf("err = %v, want ErrChannel", err)
	}
	h.session.FailWith("SendMessage", nil)

	// The bot moved to a new room while the old one stayed cached.
	replacement := ref.MustParseRoomID("!admin2:switchboard.local")
	h.session.AddMember(adminRoom, bot, schema.MembershipLeave)
	h.session.AddRoom(replacement, "Admin Room 2")
	h.session.AddMember(replacement, bot, schema.MembershipJoin)
	h.replyWith("pong")

	reply, err := channel.Execute(context.Background(), "!admin server ping")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q, want pong", reply)
	}
	sent := h.session.Sent()
	if len(sent) != 1 || sent[0].RoomID != replacement {
		t.Errorf("sent = %+v, want one command in %s", sent, replacement)
	}
	if len(discovered) != 2 || discovered[0] != adminRoom || discovered[1] != replacement {
		t.Errorf("discovered = %v, want [%s %s]", discovered, adminRoom, replacement)
	}
}

func TestExecuteToleratesClockSkew(t *testing.T) {
	// The homeserver stamps events from its own clock, which runs two
	// seconds behind the brain's.
	serverClock := clock.Fake(epoch)
	localClock := clock.Fake(epoch.Add(2 * time.Second))
	session := messagingtest.New(brain, serverClock)
	session.AddRoom(adminRoom, "Admin Room")
	session.AddMember(adminRoom, bot, schema.MembershipJoin)
	session.OnSend = func(roomID ref.RoomID, event messaging.Event) {
		session.AddMessage(roomID, bot, schema.NewTextMessage("pong"))
	}

	channel, err := New(Config{Session: session, BotUserID: bot, Clock: localClock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reply, err := channel.Execute(context.Background(), "!admin server ping")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q, want pong", reply)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.channel.Execute(ctx, "!admin server ping")
		done <- err
	}()
	h.clock.WaitForTimers(1)
	cancel()

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Execute")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
