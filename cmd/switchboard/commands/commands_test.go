// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/brain"
	"github.com/bureau-foundation/switchboard/classify"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/lib/service"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/provision"
)

// captureOutput redirects cli.Stdout for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buffer bytes.Buffer
	previous := cli.Stdout
	cli.Stdout = &buffer
	t.Cleanup(func() { cli.Stdout = previous })
	return &buffer
}

// fakeDaemon serves canned socket actions and records each request.
type fakeDaemon struct {
	socketPath string

	mu       sync.Mutex
	requests map[string]map[string]any
}

func startFakeDaemon(t *testing.T, handlers map[string]func() (any, error)) *fakeDaemon {
	t.Helper()
	daemon := &fakeDaemon{
		socketPath: filepath.Join(testutil.SocketDir(t), "switchboard.sock"),
		requests:   make(map[string]map[string]any),
	}
	server := service.NewSocketServer(daemon.socketPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for action, handler := range handlers {
		server.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
			var request map[string]any
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			daemon.mu.Lock()
			daemon.requests[action] = request
			daemon.mu.Unlock()
			return handler()
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "fake daemon ready")
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "fake daemon exit")
	})
	return daemon
}

func (d *fakeDaemon) request(action string) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[action]
}

func TestAccountsListTable(t *testing.T) {
	output := captureOutput(t)
	daemon := startFakeDaemon(t, map[string]func() (any, error){
		api.ActionAccountsList: func() (any, error) {
			return []classify.Account{
				{ID: ref.MustParseUserID("@alice:example.org"), Role: classify.RoleOwner},
				{ID: ref.MustParseUserID("@worker1:example.org"), Role: classify.RoleWorker, WorkerType: "code",
					LinkedRoom: ref.MustParseRoomID("!workers:example.org")},
			}, nil
		},
	})

	if err := Root().Execute([]string{"accounts", "list", "--socket", daemon.socketPath}); err != nil {
		t.Fatalf("accounts list: %v", err)
	}
	text := output.String()
	for _, want := range []string{"@alice:example.org", "owner", "@worker1:example.org", "code", "!workers:example.org"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestAccountsListJSON(t *testing.T) {
	output := captureOutput(t)
	daemon := startFakeDaemon(t, map[string]func() (any, error){
		api.ActionAccountsList: func() (any, error) { return []classify.Account{}, nil },
	})

	if err := Root().Execute([]string{"accounts", "list", "--json", "--socket", daemon.socketPath}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(output.String()) != "[]" {
		t.Errorf("output = %q, want []", output.String())
	}
}

func TestAccountsResetPassword(t *testing.T) {
	output := captureOutput(t)
	alice := ref.MustParseUserID("@alice:example.org")
	daemon := startFakeDaemon(t, map[string]func() (any, error){
		api.ActionAccountsResetPassword: func() (any, error) {
			return brain.CreatedAccount{UserID: alice, Password: "0123456789abcdef"}, nil
		},
	})

	err := Root().Execute([]string{"accounts", "reset-password", "@alice:example.org", "--socket", daemon.socketPath})
	if err != nil {
		t.Fatalf("accounts reset-password: %v", err)
	}
	if got := daemon.request(api.ActionAccountsResetPassword)["user_id"]; got != "@alice:example.org" {
		t.Errorf("user_id = %v", got)
	}
	if _, sent := daemon.request(api.ActionAccountsResetPassword)["password"]; sent {
		t.Error("password sent without --prompt-password")
	}
	text := output.String()
	if !strings.Contains(text, "@alice:example.org") || !strings.Contains(text, "password: 0123456789abcdef") {
		t.Errorf("output = %q", text)
	}
}

func TestRoomsForceJoin(t *testing.T) {
	output := captureOutput(t)
	daemon := startFakeDaemon(t, map[string]func() (any, error){
		api.ActionRoomsForceJoin: func() (any, error) { return nil, nil },
	})

	err := Root().Execute([]string{"rooms", "force-join", "!workers:example.org", "@worker1:example.org", "--socket", daemon.socketPath})
	if err != nil {
		t.Fatalf("rooms force-join: %v", err)
	}
	request := daemon.request(api.ActionRoomsForceJoin)
	if request["room_id"] != "!workers:example.org" || request["user_id"] != "@worker1:example.org" {
		t.Errorf("request = %v", request)
	}
	if !strings.Contains(output.String(), "joined @worker1:example.org to !workers:example.org") {
		t.Errorf("output = %q", output.String())
	}
}

func TestRoomsCreateSendsFields(t *testing.T) {
	output := captureOutput(t)
	daemon := startFakeDaemon(t, map[string]func() (any, error){
		api.ActionRoomsCreate: func() (any, error) {
			return api.CreateRoomResponse{RoomID: ref.MustParseRoomID("!jobs:example.org")}, nil
		},
	})

	err := Root().Execute([]string{
		"rooms", "create", "Jobs",
		"--kind", "queue",
		"--invite", "@worker1:example.org",
		"--invite", "@worker2:example.org",
		"--socket", daemon.socketPath,
	})
	if err != nil {
		t.Fatalf("rooms create: %v", err)
	}

	request := daemon.request(api.ActionRoomsCreate)
	if request["name"] != "Jobs" || request["kind"] != string(schema.RoomKindQueue) {
		t.Errorf("request = %v", request)
	}
	invites, _ := request["invite"].([]any)
	if len(invites) != 2 || invites[1] != "@worker2:example.org" {
		t.Errorf("invite = %v", request["invite"])
	}
	if !strings.Contains(output.String(), "!jobs:example.org") {
		t.Errorf("output = %q", output.String())
	}
}

func TestRoomsCreateRequiresKind(t *testing.T) {
	err := Root().Execute([]string{"rooms", "create", "Jobs", "--socket", "/nonexistent.sock"})
	if err == nil || !strings.Contains(err.Error(), "--kind is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestInvitationAccept(t *testing.T) {
	output := captureOutput(t)
	daemon := startFakeDaemon(t, map[string]func() (any, error){
		api.ActionInvitationsAccept: func() (any, error) { return nil, nil },
	})

	if err := Root().Execute([]string{"invitations", "accept", "!project:example.org", "--socket", daemon.socketPath}); err != nil {
		t.Fatal(err)
	}
	if got := daemon.request(api.ActionInvitationsAccept)["room_id"]; got != "!project:example.org" {
		t.Errorf("room_id = %v", got)
	}
	if !strings.Contains(output.String(), "accepted invitation to !project:example.org") {
		t.Errorf("output = %q", output.String())
	}
}

func TestDaemonErrorSurfaces(t *testing.T) {
	captureOutput(t)
	daemon := startFakeDaemon(t, map[string]func() (any, error){
		api.ActionProvisionStart: func() (any, error) { return nil, provision.ErrHealthTimeout },
	})

	err := Root().Execute([]string{"provision", "start", "--socket", daemon.socketPath})
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("err = %v, want *service.ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "did not become healthy") {
		t.Errorf("message = %q", serviceErr.Message)
	}
}

func TestProvisionConfigureLocal(t *testing.T) {
	output := captureOutput(t)
	root := t.TempDir()
	configPath := filepath.Join(root, "switchboard.yaml")
	configYAML := fmt.Sprintf("paths:\n  root: %s\nprovision:\n  image: registry.example.org/continuwuity:v1\n", root)
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Root().Execute([]string{
		"provision", "configure", "--local",
		"--config", configPath,
		"--server-name", "chat.example.org",
		"--port", "8448",
	})
	if err != nil {
		t.Fatalf("configure --local: %v", err)
	}
	if !strings.Contains(output.String(), "generated a new registration token") {
		t.Errorf("output = %q", output.String())
	}

	compose, err := os.ReadFile(filepath.Join(root, "homeserver", provision.ComposeFileName))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"chat.example.org", "registry.example.org/continuwuity:v1", "127.0.0.1:8448:6167"} {
		if !strings.Contains(string(compose), want) {
			t.Errorf("compose.yaml missing %q:\n%s", want, compose)
		}
	}
}

func TestReadEvents(t *testing.T) {
	stream := ": connected\n\n" +
		"event: invitations\ndata: []\n\n" +
		": keep-alive\n\n" +
		"event: message\ndata: {\"body\":\n" +
		"data: \"hi\"}\n\n" +
		"event: dropped\ndata: {}\n\n" +
		"event: message\ndata: {}\n\n"

	var events []streamEvent
	err := readEvents(strings.NewReader(stream), func(event streamEvent) error {
		events = append(events, event)
		return nil
	})
	if !errors.Is(err, errStreamDropped) {
		t.Fatalf("err = %v, want errStreamDropped", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Kind != "invitations" || string(events[0].Data) != "[]" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Kind != "message" || string(events[1].Data) != "{\"body\":\n\"hi\"}" {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestEventsCommandPrintsMessages(t *testing.T) {
	output := captureOutput(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: message\ndata: {\"room_id\":\"!human1:x\",\"sender\":\"@alice:x\",\"body\":\"hi\",\"intent\":\"prompt\"}\n\n")
		fmt.Fprint(w, "event: invitations\ndata: [{\"room_id\":\"!project:x\",\"room_name\":\"Project\"}]\n\n")
	}))
	defer server.Close()

	if err := Root().Execute([]string{"events", "--api", server.URL}); err != nil {
		t.Fatalf("events: %v", err)
	}
	text := output.String()
	for _, want := range []string{"!human1:x @alice:x [prompt]: hi", "invitations: 1 pending", "!project:x Project"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestEventsCommandReportsHTTPError(t *testing.T) {
	captureOutput(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := Root().Execute([]string{"events", "--api", server.URL})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v", err)
	}
}
