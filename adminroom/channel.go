// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
)

const (
	defaultAttempts = 10
	defaultInterval = 500 * time.Millisecond

	// pollLimit is how many of the newest timeline events each poll
	// inspects.
	pollLimit = 10
)

// Config holds the dependencies of a Channel.
type Config struct {
	// Session is the brain's session. Required.
	Session messaging.Session

	// BotUserID is the admin bot account. Required.
	BotUserID ref.UserID

	// StoredRoomID is the admin room persisted by a previous run. It
	// is re-validated before use. Optional.
	StoredRoomID ref.RoomID

	// OnDiscover is called when discovery settles on a room other than
	// StoredRoomID. Optional.
	OnDiscover func(ref.RoomID)

	// Attempts and Interval bound reply polling. Zero values use 10
	// attempts at 500ms.
	Attempts int
	Interval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Channel executes admin-bot commands. Create one per process with
// New.
type Channel struct {
	session    messaging.Session
	botUserID  ref.UserID
	storedRoom ref.RoomID
	onDiscover func(ref.RoomID)
	attempts   int
	interval   time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	// discoverMu serializes discovery; mu guards roomID alone so
	// CachedRoomID never waits on the network.
	discoverMu sync.Mutex
	mu         sync.Mutex
	roomID     ref.RoomID
}

// New validates config and returns a Channel. No network calls are
// made until the first command.
func New(config Config) (*Channel, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("adminroom: Session is required")
	}
	if config.BotUserID.IsZero() {
		return nil, fmt.Errorf("adminroom: BotUserID is required")
	}
	channel := &Channel{
		session:    config.Session,
		botUserID:  config.BotUserID,
		storedRoom: config.StoredRoomID,
		onDiscover: config.OnDiscover,
		attempts:   config.Attempts,
		interval:   config.Interval,
		clock:      config.Clock,
		logger:     config.Logger,
	}
	if channel.attempts <= 0 {
		channel.attempts = defaultAttempts
	}
	if channel.interval <= 0 {
		channel.interval = defaultInterval
	}
	if channel.clock == nil {
		channel.clock = clock.Real()
	}
	if channel.logger == nil {
		channel.logger = slog.Default()
	}
	return channel, nil
}

// BotUserID returns the admin bot account the channel talks to.
func (c *Channel) BotUserID() ref.UserID {
	return c.botUserID
}

// CachedRoomID returns the discovered admin room, or the zero RoomID
// before discovery. The sync engine reads it to exclude admin traffic.
func (c *Channel) CachedRoomID() ref.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Forget drops the cached and stored admin room so the next command
// runs discovery from scratch.
func (c *Channel) Forget() {
	c.discoverMu.Lock()
	defer c.discoverMu.Unlock()
	c.mu.Lock()
	c.roomID = ref.RoomID{}
	c.mu.Unlock()
	c.storedRoom = ref.RoomID{}
}

// Execute sends command to the admin bot and returns the body of the
// correlated reply. Transport failures wrap ErrChannel; an exhausted
// poll budget returns ErrTimeout. The reply is returned as-is: Execute
// does not interpret failure text (the typed helpers do).
func (c *Channel) Execute(ctx context.Context, command string) (string, error) {
	started := c.clock.Now()
	reply, err := c.execute(ctx, command)
	result := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.CommandDuration.WithLabelValues(result).Observe(c.clock.Now().Sub(started).Seconds())
	return reply, err
}

func (c *Channel) execute(ctx context.Context, command string) (string, error) {
	roomID, err := c.Discover(ctx)
	if err != nil {
		return "", err
	}

	anchor, err := c.latestEventID(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("%w: reading anchor in %s: %w", ErrChannel, roomID, err)
	}

	commandID, err := c.session.SendMessage(ctx, roomID, schema.NewTextMessage(command))
	if err != nil {
		if messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
			// Kicked or the room is gone; rediscover next time.
			c.Forget()
		}
		return "", fmt.Errorf("%w: sending command: %w", ErrChannel, err)
	}

	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-c.clock.After(c.interval):
			}
		}

		reply, found, err := c.findReply(ctx, roomID, anchor, commandID)
		if err != nil {
			return "", fmt.Errorf("%w: polling for reply: %w", ErrChannel, err)
		}
		if found {
			c.logger.Debug("admin command answered",
				"command", commandName(command),
				"attempt", attempt+1,
			)
			return reply, nil
		}
	}

	c.logger.Warn("admin command timed out",
		"command", commandName(command),
		"attempts", c.attempts,
	)
	return "", ErrTimeout
}

// latestEventID returns the newest event in the room, or the zero
// EventID for an empty timeline.
func (c *Channel) latestEventID(ctx context.Context, roomID ref.RoomID) (ref.EventID, error) {
	response, err := c.session.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{Direction: "b", Limit: 1})
	if err != nil {
		return ref.EventID{}, err
	}
	if len(response.Chunk) == 0 {
		return ref.EventID{}, nil
	}
	return response.Chunk[0].EventID, nil
}

// findReply scans the newest events, newest first, for a bot message
// that follows the command event. Timestamps are compared against the
// command's own server timestamp, never the local clock.
func (c *Channel) findReply(ctx context.Context, roomID ref.RoomID, anchor, commandID ref.EventID) (string, bool, error) {
	response, err := c.session.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{Direction: "b", Limit: pollLimit})
	if err != nil {
		return "", false, err
	}
	var candidates []messaging.Event
	for _, event := range response.Chunk {
		if event.EventID == commandID {
			// Anything older than the command cannot answer it.
			for _, candidate := range candidates {
				if candidate.OriginServerTS >= event.OriginServerTS {
					return candidate.Body(), true, nil
				}
			}
			return "", false, nil
		}
		if event.EventID == anchor {
			// Older than the command, so the command was not seen.
			return "", false, nil
		}
		if event.Type == schema.MatrixEventTypeMessage && event.Sender == c.botUserID {
			candidates = append(candidates, event)
		}
	}
	// The command scrolled out of the window, so every event seen is
	// newer than it.
	if len(candidates) > 0 {
		return candidates[0].Body(), true, nil
	}
	return "", false, nil
}

// commandName returns the command without arguments: the "!admin"
// prefix plus the next two words at most.
func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}
