// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messagingtest provides an in-memory messaging.Session for
// tests. The fake keeps rooms, state, membership, timelines, and
// pending invites in maps guarded by one mutex. Tests seed it with the
// Add* and Set* methods and script /sync by pushing responses.
package messagingtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	RoomID  ref.RoomID
	EventID ref.EventID
	Content schema.MessageContent
}

type room struct {
	state    map[string]json.RawMessage // "type\x00stateKey"
	members  map[ref.UserID]messaging.RoomMember
	timeline []messaging.Event
}

type syncResult struct {
	response *messaging.SyncResponse
	err      error
}

// FakeSession is an in-memory messaging.Session.
type FakeSession struct {
	userID ref.UserID
	clock  clock.Clock

	// OnSend, when set, runs after every SendMessage with the stored
	// event. It is called without the lock held, so it may call back
	// into the fake (typically AddMessage to script a reply).
	OnSend func(roomID ref.RoomID, event messaging.Event)

	mu           sync.Mutex
	rooms        map[ref.RoomID]*room
	joined       map[ref.RoomID]bool
	invites      map[ref.RoomID]messaging.InvitedRoom
	aliases      map[string]ref.RoomID
	displayNames map[ref.UserID]string
	sent         []SentMessage
	created      []messaging.CreateRoomRequest
	errors       map[string]error
	nextID       int
	batch        int

	syncQueue chan syncResult
}

var _ messaging.Session = (*FakeSession)(nil)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// New creates a FakeSession acting as userID. A nil clock uses a fake
// clock fixed at 2026-01-01 so event timestamps are deterministic.
func New(userID ref.UserID, timeSource clock.Clock) *FakeSession {
	if timeSource == nil {
		timeSource = clock.Fake(epoch)
	}
	return &FakeSession{
		userID:       userID,
		clock:        timeSource,
		rooms:        make(map[ref.RoomID]*room),
		joined:       make(map[ref.RoomID]bool),
		invites:      make(map[ref.RoomID]messaging.InvitedRoom),
		aliases:      make(map[string]ref.RoomID),
		displayNames: make(map[ref.UserID]string),
		errors:       make(map[string]error),
		syncQueue:    make(chan syncResult, 64),
	}
}

func notFound(what string) error {
	return &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: what + " not found", StatusCode: http.StatusNotFound}
}

func stateKey(eventType ref.EventType, key string) string {
	return string(eventType) + "\x00" + key
}

// FailWith makes every subsequent call to the named operation
// ("SendMessage", "JoinedRooms", ...) return err. A nil err clears it.
func (f *FakeSession) FailWith(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errors, operation)
		return
	}
	f.errors[operation] = err
}

func (f *FakeSession) injected(operation string) error {
	return f.errors[operation]
}

func (f *FakeSession) newEventID() ref.EventID {
	f.nextID++
	return ref.MustParseEventID(fmt.Sprintf("$event%d", f.nextID))
}

func (f *FakeSession) roomLocked(roomID ref.RoomID) *room {
	existing, ok := f.rooms[roomID]
	if !ok {
		existing = &room{
			state:   make(map[string]json.RawMessage),
			members: make(map[ref.UserID]messaging.RoomMember),
		}
		f.rooms[roomID] = existing
	}
	return existing
}

// AddRoom creates a room the session has joined, optionally named.
func (f *FakeSession) AddRoom(roomID ref.RoomID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.roomLocked(roomID)
	f.joined[roomID] = true
	r.members[f.userID] = messaging.RoomMember{UserID: f.userID, Membership: schema.MembershipJoin}
	if name != "" {
		content, _ := json.Marshal(schema.RoomNameContent{Name: name})
		r.state[stateKey(schema.MatrixEventTypeRoomName, "")] = content
	}
}

// AddMember sets a user's membership in a room.
func (f *FakeSession) AddMember(roomID ref.RoomID, userID ref.UserID, membership string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomLocked(roomID).members[userID] = messaging.RoomMember{UserID: userID, Membership: membership}
}

// SetState stores a state event's content.
func (f *FakeSession) SetState(roomID ref.RoomID, eventType ref.EventType, key string, content any) {
	data, err := json.Marshal(content)
	if err != nil {
		panic(fmt.Sprintf("messagingtest: marshaling state: %v", err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomLocked(roomID).state[stateKey(eventType, key)] = data
}

// SetAlias maps a room alias to a room ID.
func (f *FakeSession) SetAlias(alias ref.RoomAlias, roomID ref.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[alias.String()] = roomID
}

// SetDisplayName sets a user's profile display name.
func (f *FakeSession) SetDisplayName(userID ref.UserID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displayNames[userID] = name
}

// AddMessage appends a message from sender to a room's timeline and
// returns the stored event.
func (f *FakeSession) AddMessage(roomID ref.RoomID, sender ref.UserID, content schema.MessageContent) messaging.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendMessageLocked(roomID, sender, content)
}

func (f *FakeSession) appendMessageLocked(roomID ref.RoomID, sender ref.UserID, content schema.MessageContent) messaging.Event {
	event := messaging.Event{
		EventID:        f.newEventID(),
		Type:           schema.MatrixEventTypeMessage,
		Sender:         sender,
		OriginServerTS: f.clock.Now().UnixMilli(),
		Content:        contentMap(content),
		RoomID:         roomID,
	}
	r := f.roomLocked(roomID)
	r.timeline = append(r.timeline, event)
	return event
}

// contentMap converts message content to the generic map form events
// carry on the wire.
func contentMap(content schema.MessageContent) map[string]any {
	data, err := json.Marshal(content)
	if err != nil {
		panic(fmt.Sprintf("messagingtest: marshaling message: %v", err))
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		panic(fmt.Sprintf("messagingtest: unmarshaling message: %v", err))
	}
	return result
}

// AddInvite records a pending invite from inviter. The stripped state
// carries the inviter's m.room.member event and, when name is set, an
// m.room.name event.
func (f *FakeSession) AddInvite(roomID ref.RoomID, inviter ref.UserID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites[roomID] = InviteState(f.userID, inviter, name)
}

// InviteState builds the invite_state section the homeserver sends for
// an invite of invitee by inviter.
func InviteState(invitee, inviter ref.UserID, name string) messaging.InvitedRoom {
	memberKey := invitee.String()
	events := []messaging.Event{{
		Type:     schema.MatrixEventTypeMember,
		Sender:   inviter,
		StateKey: &memberKey,
		Content:  map[string]any{"membership": schema.MembershipInvite},
	}}
	if name != "" {
		emptyKey := ""
		events = append(events, messaging.Event{
			Type:     schema.MatrixEventTypeRoomName,
			Sender:   inviter,
			StateKey: &emptyKey,
			Content:  map[string]any{"name": name},
		})
	}
	return messaging.InvitedRoom{InviteState: messaging.StateSection{Events: events}}
}

// PushSync queues a response for the next incremental /sync. NextBatch
// is filled in when empty.
func (f *FakeSession) PushSync(response *messaging.SyncResponse) {
	f.mu.Lock()
	if response.NextBatch == "" {
		f.batch++
		response.NextBatch = fmt.Sprintf("batch%d", f.batch)
	}
	f.mu.Unlock()
	f.syncQueue <- syncResult{response: response}
}

// PushSyncError queues an error for the next incremental /sync.
func (f *FakeSession) PushSyncError(err error) {
	f.syncQueue <- syncResult{err: err}
}

// Sent returns every message sent through the session, in order.
func (f *FakeSession) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// SentTo returns the messages sent to one room.
func (f *FakeSession) SentTo(roomID ref.RoomID) []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []SentMessage
	for _, message := range f.sent {
		if message.RoomID == roomID {
			result = append(result, message)
		}
	}
	return result
}

// CreatedRooms returns every CreateRoom request, in order.
func (f *FakeSession) CreatedRooms() []messaging.CreateRoomRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.created)
}

// Membership returns a user's membership in a room, or "".
func (f *FakeSession) Membership(roomID ref.RoomID, userID ref.UserID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return ""
	}
	return r.members[userID].Membership
}

// IsJoined reports whether the session has joined roomID.
func (f *FakeSession) IsJoined(roomID ref.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined[roomID]
}

// HasInvite reports whether an invite to roomID is pending.
func (f *FakeSession) HasInvite(roomID ref.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.invites[roomID]
	return ok
}

func (f *FakeSession) UserID() ref.UserID { return f.userID }

func (f *FakeSession) Close() error { return nil }

func (f *FakeSession) WhoAmI(ctx context.Context) (ref.UserID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("WhoAmI"); err != nil {
		return ref.UserID{}, err
	}
	return f.userID, nil
}

func (f *FakeSession) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("ResolveAlias"); err != nil {
		return ref.RoomID{}, err
	}
	roomID, ok := f.aliases[alias.String()]
	if !ok {
		return ref.RoomID{}, notFound("alias " + alias.String())
	}
	return roomID, nil
}

func (f *FakeSession) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("GetStateEvent"); err != nil {
		return nil, err
	}
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, notFound("room " + roomID.String())
	}
	content, ok := r.state[stateKey(eventType, key)]
	if !ok {
		return nil, notFound("state event " + string(eventType))
	}
	return slices.Clone(content), nil
}

func (f *FakeSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, key string, content any) (ref.EventID, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return ref.EventID{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("SendStateEvent"); err != nil {
		return ref.EventID{}, err
	}
	if !f.joined[roomID] {
		return ref.EventID{}, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: http.StatusForbidden}
	}
	f.roomLocked(roomID).state[stateKey(eventType, key)] = data
	return f.newEventID(), nil
}

func (f *FakeSession) SendMessage(ctx context.Context, roomID ref.RoomID, content schema.MessageContent) (ref.EventID, error) {
	f.mu.Lock()
	if err := f.injected("SendMessage"); err != nil {
		f.mu.Unlock()
		return ref.EventID{}, err
	}
	if !f.joined[roomID] {
		f.mu.Unlock()
		return ref.EventID{}, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: http.StatusForbidden}
	}
	event := f.appendMessageLocked(roomID, f.userID, content)
	f.sent = append(f.sent, SentMessage{RoomID: roomID, EventID: event.EventID, Content: content})
	hook := f.OnSend
	f.mu.Unlock()

	if hook != nil {
		hook(roomID, event)
	}
	return event.EventID, nil
}

func (f *FakeSession) CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("CreateRoom"); err != nil {
		return nil, err
	}
	f.created = append(f.created, request)
	f.nextID++
	roomID := ref.MustParseRoomID(fmt.Sprintf("!room%d:%s", f.nextID, f.userID.Server()))

	r := f.roomLocked(roomID)
	f.joined[roomID] = true
	r.members[f.userID] = messaging.RoomMember{UserID: f.userID, Membership: schema.MembershipJoin}
	if request.Name != "" {
		content, _ := json.Marshal(schema.RoomNameContent{Name: request.Name})
		r.state[stateKey(schema.MatrixEventTypeRoomName, "")] = content
	}
	for _, event := range request.InitialState {
		content, err := json.Marshal(event.Content)
		if err != nil {
			return nil, err
		}
		r.state[stateKey(event.Type, event.StateKey)] = content
	}
	for _, invitee := range request.Invite {
		r.members[invitee] = messaging.RoomMember{UserID: invitee, Membership: schema.MembershipInvite}
	}
	if request.Alias != "" {
		f.aliases["#"+request.Alias+":"+f.userID.Server()] = roomID
	}
	return &messaging.CreateRoomResponse{RoomID: roomID}, nil
}

func (f *FakeSession) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("InviteUser"); err != nil {
		return err
	}
	if !f.joined[roomID] {
		return &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: http.StatusForbidden}
	}
	r := f.roomLocked(roomID)
	if r.members[userID].Membership == schema.MembershipJoin {
		return &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "already in the room", StatusCode: http.StatusForbidden}
	}
	r.members[userID] = messaging.RoomMember{UserID: userID, Membership: schema.MembershipInvite}
	return nil
}

func (f *FakeSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("JoinRoom"); err != nil {
		return ref.RoomID{}, err
	}
	_, invited := f.invites[roomID]
	if _, exists := f.rooms[roomID]; !exists && !invited {
		return ref.RoomID{}, notFound("room " + roomID.String())
	}
	delete(f.invites, roomID)
	f.joined[roomID] = true
	f.roomLocked(roomID).members[f.userID] = messaging.RoomMember{UserID: f.userID, Membership: schema.MembershipJoin}
	return roomID, nil
}

func (f *FakeSession) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("LeaveRoom"); err != nil {
		return err
	}
	_, invited := f.invites[roomID]
	if !invited && !f.joined[roomID] {
		return notFound("membership in " + roomID.String())
	}
	delete(f.invites, roomID)
	delete(f.joined, roomID)
	if r, ok := f.rooms[roomID]; ok {
		r.members[f.userID] = messaging.RoomMember{UserID: f.userID, Membership: schema.MembershipLeave}
	}
	return nil
}

func (f *FakeSession) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("JoinedRooms"); err != nil {
		return nil, err
	}
	rooms := make([]ref.RoomID, 0, len(f.joined))
	for roomID := range f.joined {
		rooms = append(rooms, roomID)
	}
	slices.SortFunc(rooms, func(a, b ref.RoomID) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		}
		return 0
	})
	return rooms, nil
}

func (f *FakeSession) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("GetRoomMembers"); err != nil {
		return nil, err
	}
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, notFound("room " + roomID.String())
	}
	members := make([]messaging.RoomMember, 0, len(r.members))
	for _, member := range r.members {
		member.DisplayName = f.displayNames[member.UserID]
		members = append(members, member)
	}
	slices.SortFunc(members, func(a, b messaging.RoomMember) int {
		switch {
		case a.UserID.String() < b.UserID.String():
			return -1
		case a.UserID.String() > b.UserID.String():
			return 1
		}
		return 0
	})
	return members, nil
}

func (f *FakeSession) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("GetDisplayName"); err != nil {
		return "", err
	}
	return f.displayNames[userID], nil
}

// RoomMessages returns timeline events. Backward pagination yields
// newest first. Pagination tokens are ignored.
func (f *FakeSession) RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("RoomMessages"); err != nil {
		return nil, err
	}
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, notFound("room " + roomID.String())
	}
	events := slices.Clone(r.timeline)
	if options.Direction != "f" {
		slices.Reverse(events)
	}
	if options.Limit > 0 && len(events) > options.Limit {
		events = events[:options.Limit]
	}
	return &messaging.RoomMessagesResponse{Chunk: events}, nil
}

// Sync answers an initial sync (empty Since) immediately with the
// current invites. An incremental sync blocks until a response is
// pushed or ctx is done.
func (f *FakeSession) Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	f.mu.Lock()
	if err := f.injected("Sync"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if options.Since == "" {
		invites := make(map[ref.RoomID]messaging.InvitedRoom, len(f.invites))
		for roomID, invite := range f.invites {
			invites[roomID] = invite
		}
		f.batch++
		response := &messaging.SyncResponse{
			NextBatch: fmt.Sprintf("batch%d", f.batch),
			Rooms:     messaging.RoomsSection{Invite: invites},
		}
		f.mu.Unlock()
		return response, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-f.syncQueue:
		return result.response, result.err
	}
}
