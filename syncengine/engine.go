// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
)

const (
	defaultTimeout = 30 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Second
)

// Filters sent with /sync. The initial and invite filters request no
// timeline so history is never replayed.
const (
	incrementalFilter = `{"presence":{"types":[]},"account_data":{"types":[]},"room":{"account_data":{"types":[]},"ephemeral":{"types":[]}}}`
	snapshotFilter    = `{"presence":{"types":[]},"account_data":{"types":[]},"room":{"timeline":{"limit":0},"account_data":{"types":[]},"ephemeral":{"types":[]}}}`
)

// Config holds the dependencies of an Engine.
type Config struct {
	Session messaging.Session

	// BotUserID is the admin bot. Its messages are never emitted.
	BotUserID ref.UserID

	// AdminRoom returns the current admin room, or the zero RoomID
	// when it is not yet known. Read once per cycle.
	AdminRoom func() ref.RoomID

	// Timeout is the long-poll timeout. Zero uses 30s.
	Timeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine is the sync loop. Register listeners before calling Run.
type Engine struct {
	session   messaging.Session
	brain     ref.UserID
	bot       ref.UserID
	adminRoom func() ref.RoomID
	timeout   time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu                  sync.Mutex
	cursor              string
	invitations         []Invitation
	messageListeners    []func(Message)
	invitationListeners []func([]Invitation)

	// invitesStale is set when a re-fetch failed so the next cycle
	// retries it. Only touched by the Run goroutine.
	invitesStale bool
}

// New returns an Engine.
func New(config Config) (*Engine, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("syncengine: Session is required")
	}
	engine := &Engine{
		session:   config.Session,
		brain:     config.Session.UserID(),
		bot:       config.BotUserID,
		adminRoom: config.AdminRoom,
		timeout:   config.Timeout,
		clock:     config.Clock,
		logger:    config.Logger,
	}
	if engine.adminRoom == nil {
		engine.adminRoom = func() ref.RoomID { return ref.RoomID{} }
	}
	if engine.timeout <= 0 {
		engine.timeout = defaultTimeout
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}
	return engine, nil
}

// OnMessage registers a message listener.
func (e *Engine) OnMessage(listener func(Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messageListeners = append(e.messageListeners, listener)
}

// OnInvitations registers a listener for invitation list changes. It
// receives the complete list.
func (e *Engine) OnInvitations(listener func([]Invitation)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invitationListeners = append(e.invitationListeners, listener)
}

// Cursor returns the current next_batch token, or "" before the first
// successful sync.
func (e *Engine) Cursor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Invitations returns the cached pending invitations.
func (e *Engine) Invitations() []Invitation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.invitations)
}

// Run syncs until ctx is cancelled and returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		if e.Cursor() == "" {
			err = e.initialSync(ctx)
		} else {
			err = e.cycle(ctx)
		}
		if err == nil {
			backoff = initialBackoff
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.SyncFailuresTotal.Inc()
		e.logger.Warn("sync failed, retrying", "error", err, "backoff", backoff)
		if closer, ok := e.session.(interface{ CloseIdleConnections() }); ok {
			closer.CloseIdleConnections()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (e *Engine) initialSync(ctx context.Context) error {
	response, err := e.session.Sync(ctx, messaging.SyncOptions{
		Filter:     snapshotFilter,
		SetTimeout: true,
	})
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}
	if response.NextBatch == "" {
		return fmt.Errorf("initial sync: response has no next_batch")
	}
	metrics.SyncCyclesTotal.Inc()

	invitations := e.invitationsFrom(response.Rooms.Invite)
	e.mu.Lock()
	e.cursor = response.NextBatch
	e.invitations = invitations
	e.mu.Unlock()

	e.logger.Info("initial sync complete",
		"pending_invitations", len(invitations),
	)
	return nil
}

func (e *Engine) cycle(ctx context.Context) error {
	response, err := e.session.Sync(ctx, messaging.SyncOptions{
		Since:      e.Cursor(),
		Timeout:    int(e.timeout.Milliseconds()),
		SetTimeout: true,
		Filter:     incrementalFilter,
	})
	if err != nil {
		return err
	}
	metrics.SyncCyclesTotal.Inc()

	// Advance before processing: a poison event must not pin the
	// cursor.
	if response.NextBatch != "" {
		e.mu.Lock()
		e.cursor = response.NextBatch
		e.mu.Unlock()
	}

	invitesChanged := e.invitesStale || e.invitesAffected(response)
	for _, message := range e.extractMessages(response) {
		e.emitMessage(message)
	}

	if invitesChanged {
		if err := e.refreshInvitations(ctx); err != nil {
			e.invitesStale = true
			e.logger.Warn("invitation re-fetch failed", "error", err)
		} else {
			e.invitesStale = false
		}
	}
	return nil
}

// invitesAffected reports whether the response changes the pending
// invite set.
func (e *Engine) invitesAffected(response *messaging.SyncResponse) bool {
	if len(response.Rooms.Invite) > 0 || len(response.Rooms.Leave) > 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, invitation := range e.invitations {
		if _, joined := response.Rooms.Join[invitation.RoomID]; joined {
			return true
		}
	}
	return false
}

func (e *Engine) extractMessages(response *messaging.SyncResponse) []Message {
	adminRoom := e.adminRoom()
	roomIDs := make([]ref.RoomID, 0, len(response.Rooms.Join))
	for roomID := range response.Rooms.Join {
		roomIDs = append(roomIDs, roomID)
	}
	slices.SortFunc(roomIDs, func(a, b ref.RoomID) int { return cmp.Compare(a.String(), b.String()) })

	var messages []Message
	for _, roomID := range roomIDs {
		if !adminRoom.IsZero() && roomID == adminRoom {
			continue
		}
		for _, event := range response.Rooms.Join[roomID].Timeline.Events {
			if event.Type != schema.MatrixEventTypeMessage {
				continue
			}
			if event.Sender == e.brain || event.Sender == e.bot {
				continue
			}
			messages = append(messages, messageFromEvent(roomID, event))
		}
	}
	return messages
}

// refreshInvitations replaces the invite list with a full snapshot and
// notifies listeners.
func (e *Engine) refreshInvitations(ctx context.Context) error {
	response, err := e.session.Sync(ctx, messaging.SyncOptions{
		Filter:     snapshotFilter,
		SetTimeout: true,
	})
	if err != nil {
		return err
	}
	invitations := e.invitationsFrom(response.Rooms.Invite)

	e.mu.Lock()
	e.invitations = invitations
	listeners := slices.Clone(e.invitationListeners)
	e.mu.Unlock()

	metrics.SyncEventsTotal.WithLabelValues("invitations").Inc()
	for _, listener := range listeners {
		e.safeCall(func() { listener(slices.Clone(invitations)) })
	}
	return nil
}

func (e *Engine) invitationsFrom(invites map[ref.RoomID]messaging.InvitedRoom) []Invitation {
	invitations := make([]Invitation, 0, len(invites))
	for roomID, room := range invites {
		invitations = append(invitations, invitationFromState(e.brain, roomID, room))
	}
	slices.SortFunc(invitations, func(a, b Invitation) int { return cmp.Compare(a.RoomID.String(), b.RoomID.String()) })
	return invitations
}

func (e *Engine) emitMessage(message Message) {
	e.mu.Lock()
	listeners := slices.Clone(e.messageListeners)
	e.mu.Unlock()

	metrics.SyncEventsTotal.WithLabelValues("message").Inc()
	for _, listener := range listeners {
		e.safeCall(func() { listener(message) })
	}
}

func (e *Engine) safeCall(call func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.ListenerPanicsTotal.Inc()
			e.logger.Error("sync listener panicked", "panic", recovered)
		}
	}()
	call()
}
