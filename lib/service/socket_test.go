// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type echoRequest struct {
	Action string `cbor:"action"`
	Name   string `cbor:"name"`
}

type echoResult struct {
	Greeting string `cbor:"greeting"`
}

// startServer runs a SocketServer with the given handlers and returns
// a client for it. The server stops when the test ends.
func startServer(t *testing.T, handlers map[string]ActionFunc) *SocketClient {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "switchboard.sock")
	server := NewSocketServer(socketPath, testLogger())
	for action, handler := range handlers {
		server.Handle(action, handler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "socket server ready")

	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "socket server exit"); err != nil {
			t.Errorf("Serve: %v", err)
		}
		if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
			t.Errorf("socket file not removed after Serve returned")
		}
	})
	return NewSocketClient(socketPath)
}

func TestSocketCallRoundTrip(t *testing.T) {
	client := startServer(t, map[string]ActionFunc{
		"greet": func(ctx context.Context, raw []byte) (any, error) {
			var request echoRequest
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return echoResult{Greeting: "hello " + request.Name}, nil
		},
		"noop": func(ctx context.Context, raw []byte) (any, error) {
			return nil, nil
		},
	})

	var result echoResult
	if err := client.Call(context.Background(), "greet", map[string]any{"name": "brain"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Greeting != "hello brain" {
		t.Errorf("Greeting = %q, want %q", result.Greeting, "hello brain")
	}

	if err := client.Call(context.Background(), "noop", nil, nil); err != nil {
		t.Fatalf("Call noop: %v", err)
	}
}

func TestSocketHandlerErrors(t *testing.T) {
	client := startServer(t, map[string]ActionFunc{
		"fail": func(ctx context.Context, raw []byte) (any, error) {
			return nil, fmt.Errorf("room not found")
		},
	})

	err := client.Call(context.Background(), "fail", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("Call error = %v (%T), want *ServiceError", err, err)
	}
	if serviceError.Action != "fail" || serviceError.Message != "room not found" {
		t.Errorf("ServiceError = %+v", serviceError)
	}

	err = client.Call(context.Background(), "missing", nil, nil)
	if !errors.As(err, &serviceError) {
		t.Fatalf("unknown action error = %v, want *ServiceError", err)
	}
	if serviceError.Message != `unknown action "missing"` {
		t.Errorf("Message = %q", serviceError.Message)
	}
}

func TestSocketClientUnreachable(t *testing.T) {
	client := NewSocketClient(filepath.Join(testutil.SocketDir(t), "absent.sock"))
	err := client.Call(context.Background(), "anything", nil, nil)
	if err == nil {
		t.Fatal("Call to a missing socket succeeded")
	}
	var serviceError *ServiceError
	if errors.As(err, &serviceError) {
		t.Errorf("connection failure reported as *ServiceError: %v", err)
	}
}

func TestHandleDuplicatePanics(t *testing.T) {
	server := NewSocketServer("/unused", testLogger())
	noop := func(context.Context, []byte) (any, error) { return nil, nil }
	server.Handle("rooms.list", noop)
	server.Handle("accounts.list", noop)

	if got := server.Actions(); len(got) != 2 || got[0] != "accounts.list" {
		t.Errorf("Actions() = %v, want sorted pair", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("rooms.list", noop)
}
