// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package router moves conversational turns between human rooms,
// the queue room, and worker rooms.
//
// Every turn passes through the queue twice. A human message is
// enqueued with a continuation naming its origin. The queue processor
// (outside this process) answers with a process message; the router
// sends it to a worker as a prompt. The worker's prompt.response or
// error goes back to the queue marked as returning, and the queue's
// final process message with a deliver continuation is posted to the
// origin room.
//
//	human  --enqueue-->  queue  --prompt-->  worker
//	                       ^                    |
//	                       +-----enqueue--------+
//	origin <--deliver--  queue
//
// Routing is decided by the source room's kind and the message intent.
// Forwards run on one goroutine per router, in arrival order, so the
// sync loop never waits on a send. A failed forward is logged and
// counted, never retried.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/switchboard/classify"
	"github.com/bureau-foundation/switchboard/fanout"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
	"github.com/bureau-foundation/switchboard/syncengine"
)

// Route names used in logs and metrics.
const (
	RouteHumanToQueue  = "human_to_queue"
	RouteQueueToWorker = "queue_to_worker"
	RouteQueueToOrigin = "queue_to_origin"
	RouteWorkerToQueue = "worker_to_queue"
)

// queueSize bounds the messages waiting for the forwarding goroutine.
const queueSize = 256

var (
	errNoQueueRoom  = errors.New("router: no queue room known")
	errNoWorkerRoom = errors.New("router: no worker room known")
)

// KindReader reads a room's kind declaration. *classify.Classifier
// implements it.
type KindReader interface {
	KindOf(ctx context.Context, roomID ref.RoomID) (schema.RoomKind, bool, error)
}

// Config holds the dependencies of a Router.
type Config struct {
	Session messaging.Session
	Kinds   KindReader

	// NewRequestID mints request IDs for new turns. Defaults to
	// uuid.NewString.
	NewRequestID func() string

	Logger *slog.Logger
}

type roomEntry struct {
	kind    schema.RoomKind
	members []ref.UserID
}

// Router routes messages. Create with New; Close on shutdown.
type Router struct {
	session      messaging.Session
	brain        ref.UserID
	kinds        KindReader
	newRequestID func() string
	logger       *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan syncengine.Message
	pending sync.WaitGroup
	done    chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu    sync.Mutex
	rooms map[ref.RoomID]roomEntry
}

// New returns a Router with an empty room map.
func New(config Config) (*Router, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("router: Session is required")
	}
	if config.Kinds == nil {
		return nil, fmt.Errorf("router: Kinds is required")
	}
	newRequestID := config.NewRequestID
	if newRequestID == nil {
		newRequestID = uuid.NewString
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	router := &Router{
		session:      config.Session,
		brain:        config.Session.UserID(),
		kinds:        config.Kinds,
		newRequestID: newRequestID,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		queue:        make(chan syncengine.Message, queueSize),
		done:         make(chan struct{}),
		rooms:        make(map[ref.RoomID]roomEntry),
	}
	go router.run()
	return router, nil
}

// Seed adds the typed rooms of a classifier snapshot. Rooms already
// in the map keep their kind.
func (r *Router) Seed(snapshot *classify.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, info := range snapshot.Rooms {
		if _, known := r.rooms[roomID]; known {
			continue
		}
		r.rooms[roomID] = roomEntry{kind: info.Kind, members: slices.Clone(info.Members)}
	}
}

// Learn records the kind of a room created by this process. A room
// already in the map keeps its kind.
func (r *Router) Learn(roomID ref.RoomID, kind schema.RoomKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.rooms[roomID]; !known {
		r.rooms[roomID] = roomEntry{kind: kind}
	}
}

// Kind returns the kind the router holds for a room.
func (r *Router) Kind(roomID ref.RoomID) (schema.RoomKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	return entry.kind, ok
}

// HandleEvent is a fanout.Callback. Only message events are routed.
func (r *Router) HandleEvent(event fanout.Event) error {
	if event.Kind != fanout.KindMessage || event.Message == nil {
		return nil
	}
	r.Handle(*event.Message)
	return nil
}

// Handle queues one message for routing. Messages are routed in the
// order Handle sees them; Handle blocks only while the queue is full.
// Messages the brain sent, and messages arriving after Close, are
// ignored.
func (r *Router) Handle(message syncengine.Message) {
	if message.Sender == r.brain {
		return
	}
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return
	}
	r.pending.Add(1)
	r.queue <- message
}

// Wait blocks until every queued message has been routed.
func (r *Router) Wait() {
	r.pending.Wait()
}

// Close cancels in-flight forwards and waits for the forwarding
// goroutine to drain and exit.
func (r *Router) Close() {
	r.cancel()
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.closeMu.Unlock()
	<-r.done
}

func (r *Router) run() {
	defer close(r.done)
	for message := range r.queue {
		r.route(r.ctx, message)
		r.pending.Done()
	}
}

// forward is one outgoing send decided by the routing table.
type forward struct {
	route   string
	target  ref.RoomID
	content schema.MessageContent
}

func (r *Router) route(ctx context.Context, message syncengine.Message) {
	kind, err := r.kindOf(ctx, message.RoomID)
	if err != nil {
		r.logger.Warn("cannot classify message room",
			"room_id", message.RoomID,
			"event_id", message.EventID,
			"error", err,
		)
		return
	}

	next, ok, err := r.decide(kind, message)
	if err != nil {
		metrics.RouterForwardsTotal.WithLabelValues(next.route, "error").Inc()
		r.logger.Warn("message not forwarded",
			"route", next.route,
			"room_id", message.RoomID,
			"event_id", message.EventID,
			"error", err,
		)
		return
	}
	if !ok {
		return
	}

	if _, err := r.session.SendMessage(ctx, next.target, next.content); err != nil {
		metrics.RouterForwardsTotal.WithLabelValues(next.route, "error").Inc()
		r.logger.Warn("forward failed",
			"route", next.route,
			"from", message.RoomID,
			"to", next.target,
			"event_id", message.EventID,
			"transient", messaging.IsTransient(err),
			"error", err,
		)
		return
	}
	metrics.RouterForwardsTotal.WithLabelValues(next.route, "ok").Inc()
	r.logger.Debug("message forwarded",
		"route", next.route,
		"from", message.RoomID,
		"to", next.target,
	)
}

// decide applies the routing table. ok is false for messages the
// table ignores.
func (r *Router) decide(kind schema.RoomKind, message syncengine.Message) (forward, bool, error) {
	switch kind {
	case schema.RoomKindHuman:
		next := forward{route: RouteHumanToQueue}
		queue, err := r.single(schema.RoomKindQueue, ref.RoomID{})
		if err != nil {
			return next, false, err
		}
		next.target = queue
		next.content = schema.NewTextMessage(message.Body)
		next.content.Intent = schema.IntentEnqueue
		next.content.Payload = schema.PayloadWithContinuation(nil, schema.Continuation{
			Action:      schema.ActionPrompt,
			OriginRoom:  message.RoomID,
			OriginEvent: message.EventID,
			RequestID:   r.newRequestID(),
		})
		return next, true, nil

	case schema.RoomKindQueue:
		if message.Intent != schema.IntentProcess {
			return forward{}, false, nil
		}
		continuation, ok, err := schema.ContinuationFromPayload(message.Payload)
		if err != nil {
			return forward{route: RouteQueueToWorker}, false, err
		}
		if !ok {
			return forward{}, false, nil
		}
		switch continuation.Action {
		case schema.ActionPrompt:
			next := forward{route: RouteQueueToWorker}
			worker, err := r.single(schema.RoomKindWorker, continuation.WorkerRoom)
			if err != nil {
				return next, false, err
			}
			next.target = worker
			next.content = schema.NewTextMessage(message.Body)
			next.content.Intent = schema.IntentPrompt
			next.content.Payload = message.Payload
			return next, true, nil
		case schema.ActionDeliver:
			next := forward{route: RouteQueueToOrigin}
			if continuation.OriginRoom.IsZero() {
				return next, false, fmt.Errorf("router: deliver continuation has no origin room")
			}
			next.target = continuation.OriginRoom
			next.content = schema.NewTextMessage(message.Body)
			return next, true, nil
		}
		return forward{}, false, nil

	case schema.RoomKindWorker:
		if message.Intent != schema.IntentPromptResponse && message.Intent != schema.IntentError {
			return forward{}, false, nil
		}
		next := forward{route: RouteWorkerToQueue}
		continuation, ok, err := schema.ContinuationFromPayload(message.Payload)
		if err != nil {
			return next, false, err
		}
		if !ok {
			return next, false, fmt.Errorf("router: worker reply carries no continuation")
		}
		queue, err := r.single(schema.RoomKindQueue, ref.RoomID{})
		if err != nil {
			return next, false, err
		}
		next.target = queue
		next.content = schema.NewTextMessage(message.Body)
		next.content.Intent = schema.IntentEnqueue
		next.content.Payload = schema.PayloadWithContinuation(message.Payload, schema.Continuation{
			Action:      schema.ActionDeliver,
			OriginRoom:  continuation.OriginRoom,
			OriginEvent: continuation.OriginEvent,
			RequestID:   continuation.RequestID,
			Returning:   true,
			WorkerRoom:  message.RoomID,
		})
		return next, true, nil
	}
	return forward{}, false, nil
}

// single returns the one room of kind. A non-zero preferred room wins
// when it has that kind.
func (r *Router) single(kind schema.RoomKind, preferred ref.RoomID) (ref.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !preferred.IsZero() {
		if entry, ok := r.rooms[preferred]; ok && entry.kind == kind {
			return preferred, nil
		}
		return ref.RoomID{}, fmt.Errorf("router: %s is not a known %s room", preferred, kind)
	}
	var found []ref.RoomID
	for roomID, entry := range r.rooms {
		if entry.kind == kind {
			found = append(found, roomID)
		}
	}
	switch len(found) {
	case 0:
		if kind == schema.RoomKindQueue {
			return ref.RoomID{}, errNoQueueRoom
		}
		return ref.RoomID{}, errNoWorkerRoom
	case 1:
		return found[0], nil
	}
	return ref.RoomID{}, fmt.Errorf("router: %d %s rooms and none selected", len(found), kind)
}

// kindOf returns the cached kind or classifies the room once. A room
// with no declaration is human. The first stored kind wins.
func (r *Router) kindOf(ctx context.Context, roomID ref.RoomID) (schema.RoomKind, error) {
	if kind, ok := r.Kind(roomID); ok {
		return kind, nil
	}
	kind, declared, err := r.kinds.KindOf(ctx, roomID)
	if err != nil {
		return "", err
	}
	if !declared {
		kind = schema.RoomKindHuman
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[roomID]; ok {
		return existing.kind, nil
	}
	r.rooms[roomID] = roomEntry{kind: kind}
	r.logger.Info("room classified on demand", "room_id", roomID, "kind", kind)
	return kind, nil
}
