// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"slices"
	"testing"

	"github.com/bureau-foundation/switchboard/adminroom"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
	"github.com/bureau-foundation/switchboard/messaging/messagingtest"
)

var (
	brain  = ref.MustParseUserID("@brain:switchboard.local")
	bot    = ref.MustParseUserID("@conduit:switchboard.local")
	owner  = ref.MustParseUserID("@owner:switchboard.local")
	alice  = ref.MustParseUserID("@alice:switchboard.local")
	tester = ref.MustParseUserID("@tester:switchboard.local")
	coder  = ref.MustParseUserID("@coder:switchboard.local")

	ownerRoom  = ref.MustParseRoomID("!owner:switchboard.local")
	humanRoom  = ref.MustParseRoomID("!human:switchboard.local")
	testRoom   = ref.MustParseRoomID("!test:switchboard.local")
	workerRoom = ref.MustParseRoomID("!worker:switchboard.local")
	queueRoom  = ref.MustParseRoomID("!queue:switchboard.local")
	plainRoom  = ref.MustParseRoomID("!plain:switchboard.local")
	brokenRoom = ref.MustParseRoomID("!broken:switchboard.local")
)

type fakeDirectory struct {
	users []adminroom.UserEntry
	rooms []adminroom.RoomEntry
	err   error
}

func (d *fakeDirectory) ListUsers(ctx context.Context) ([]adminroom.UserEntry, error) {
	return d.users, d.err
}

func (d *fakeDirectory) ListRooms(ctx context.Context) ([]adminroom.RoomEntry, error) {
	return d.rooms, d.err
}

// flakySession fails state reads for one room with a server error.
type flakySession struct {
	*messagingtest.FakeSession
	broken ref.RoomID
}

func (s *flakySession) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error) {
	if roomID == s.broken {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeUnknown, StatusCode: http.StatusInternalServerError}
	}
	return s.FakeSession.GetStateEvent(ctx, roomID, eventType, stateKey)
}

func addTypedRoom(session *messagingtest.FakeSession, roomID ref.RoomID, declaration schema.RoomKindContent, members ...ref.UserID) {
	session.AddRoom(roomID, "")
	session.SetState(roomID, schema.EventTypeRoomKind, "", declaration)
	for _, member := range members {
		session.AddMember(roomID, member, schema.MembershipJoin)
	}
}

func newFixture(t *testing.T) (*Classifier, *messagingtest.FakeSession) {
	t.Helper()
	session := messagingtest.New(brain, nil)
	addTypedRoom(session, ownerRoom, schema.RoomKindContent{Kind: schema.RoomKindOwner, Owner: owner}, owner)
	session.SetState(ownerRoom, schema.MatrixEventTypePowerLevels, "", schema.PowerLevels{
		Users: map[string]int{owner.String(): 100},
	})
	addTypedRoom(session, humanRoom, schema.RoomKindContent{Kind: schema.RoomKindHuman, Owner: owner}, owner, alice)
	addTypedRoom(session, testRoom, schema.RoomKindContent{Kind: schema.RoomKindTest}, tester)
	addTypedRoom(session, workerRoom, schema.RoomKindContent{Kind: schema.RoomKindWorker, WorkerType: "code"}, coder)
	addTypedRoom(session, queueRoom, schema.RoomKindContent{Kind: schema.RoomKindQueue}, alice)
	session.AddRoom(plainRoom, "Lobby")
	session.AddMember(plainRoom, alice, schema.MembershipJoin)
	addTypedRoom(session, brokenRoom, schema.RoomKindContent{Kind: schema.RoomKindHuman}, tester)
	session.SetDisplayName(alice, "Alice")

	directory := &fakeDirectory{
		users: []adminroom.UserEntry{
			{ID: brain}, {ID: bot}, {ID: owner}, {ID: alice}, {ID: tester}, {ID: coder},
			{ID: ref.MustParseUserID("@gone:switchboard.local"), Deactivated: true},
		},
		rooms: []adminroom.RoomEntry{
			{ID: workerRoom}, {ID: queueRoom}, {ID: plainRoom}, {ID: ownerRoom, Name: "Owner"},
			{ID: humanRoom}, {ID: testRoom}, {ID: brokenRoom}, {ID: humanRoom},
		},
	}
	classifier, err := New(Config{
		Session:        &flakySession{FakeSession: session, broken: brokenRoom},
		Directory:      directory,
		SystemAccounts: []ref.UserID{brain, bot},
		Workers:        3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return classifier, session
}

func TestClassify(t *testing.T) {
	classifier, _ := newFixture(t)
	snapshot, err := classifier.Classify(context.Background())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	wantRoles := map[ref.UserID]Role{
		brain:  RoleSystemBot,
		bot:    RoleSystemBot,
		owner:  RoleOwner,
		alice:  RoleHuman,
		tester: RoleTest,
		coder:  RoleWorker,
	}
	for userID, want := range wantRoles {
		if got := snapshot.Accounts[userID].Role; got != want {
			t.Errorf("role of %s = %q, want %q", userID, got, want)
		}
	}

	if got := snapshot.Accounts[coder].WorkerType; got != "code" {
		t.Errorf("coder worker type = %q, want code", got)
	}
	if got := snapshot.Accounts[alice].LinkedRoom; got != humanRoom {
		t.Errorf("alice linked room = %s, want %s", got, humanRoom)
	}
	if got := snapshot.Accounts[alice].DisplayName; got != "Alice" {
		t.Errorf("alice display name = %q", got)
	}
	gone := snapshot.Accounts[ref.MustParseUserID("@gone:switchboard.local")]
	if !gone.Deactivated || gone.Role != RoleUnassigned {
		t.Errorf("deactivated account = %+v", gone)
	}

	if _, ok := snapshot.Rooms[plainRoom]; ok {
		t.Error("untyped room should be excluded")
	}
	if len(snapshot.Rooms) != 5 {
		t.Errorf("typed rooms = %d, want 5", len(snapshot.Rooms))
	}
	if room := snapshot.Rooms[ownerRoom]; !room.OwnerPower || room.Name != "Owner" {
		t.Errorf("owner room = %+v", room)
	}
	if room := snapshot.Rooms[humanRoom]; room.OwnerPower {
		t.Error("human room has no power levels; OwnerPower should be false")
	}
	if !slices.Equal(snapshot.Gaps, []ref.RoomID{brokenRoom}) {
		t.Errorf("gaps = %v, want [%s]", snapshot.Gaps, brokenRoom)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	classifier, _ := newFixture(t)
	first, err := classifier.Classify(context.Background())
	if err != nil {
		t.Fatalf("first Classify: %v", err)
	}
	second, err := classifier.Classify(context.Background())
	if err != nil {
		t.Fatalf("second Classify: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("snapshots differ:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestClassifyDirectoryFailure(t *testing.T) {
	classifier, err := New(Config{
		Session:   messagingtest.New(brain, nil),
		Directory: &fakeDirectory{err: errors.New("bot unreachable")},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := classifier.Classify(context.Background()); err == nil {
		t.Fatal("expected error when the directory fails")
	}
}

func TestKindOf(t *testing.T) {
	classifier, session := newFixture(t)
	session.AddRoom(ref.MustParseRoomID("!odd:switchboard.local"), "")
	session.SetState(ref.MustParseRoomID("!odd:switchboard.local"), schema.EventTypeRoomKind, "", map[string]string{"kind": "mystery"})

	tests := []struct {
		room     ref.RoomID
		wantKind schema.RoomKind
		wantOK   bool
		wantErr  bool
	}{
		{queueRoom, schema.RoomKindQueue, true, false},
		{plainRoom, "", false, false},
		{ref.MustParseRoomID("!odd:switchboard.local"), "", false, false},
		{brokenRoom, "", false, true},
	}
	for _, test := range tests {
		t.Run(test.room.String(), func(t *testing.T) {
			kind, ok, err := classifier.KindOf(context.Background(), test.room)
			if (err != nil) != test.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, test.wantErr)
			}
			if kind != test.wantKind || ok != test.wantOK {
				t.Errorf("KindOf = (%q, %v), want (%q, %v)", kind, ok, test.wantKind, test.wantOK)
			}
		})
	}
}
