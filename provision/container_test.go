// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeDocker writes a shell script standing in for the docker CLI. It
// appends each invocation's arguments to calls.log and answers the
// queries ComposeClient makes.
func fakeDocker(t *testing.T, dir string) *ComposeClient {
	t.Helper()
	script := `#!/bin/sh
echo "$* token=${SWITCHBOARD_REGISTRATION_TOKEN}" >> "` + filepath.Join(dir, "calls.log") + `"
case "$1" in
info) echo 27.3.1 ;;
ps) echo switchboard-homeserver ;;
inspect) echo healthy ;;
compose)
	case "$4" in
	logs) echo "homeserver listening" ;;
	fail) echo "no such service" >&2; exit 1 ;;
	esac ;;
esac
`
	binary := filepath.Join(dir, "docker")
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	client := NewComposeClient(dir, DefaultContainerName)
	client.binary = binary
	return client
}

func readCalls(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestComposeClientCommands(t *testing.T) {
	dir := t.TempDir()
	client := fakeDocker(t, dir)
	ctx := context.Background()

	version, err := client.CheckDaemon(ctx)
	if err != nil || version != "27.3.1" {
		t.Errorf("CheckDaemon = %q, %v", version, err)
	}
	running, err := client.Running(ctx)
	if err != nil || !running {
		t.Errorf("Running = %v, %v", running, err)
	}
	health, err := client.Health(ctx)
	if err != nil || health != HealthHealthy {
		t.Errorf("Health = %q, %v", health, err)
	}
	if err := client.Up(ctx, map[string]string{tokenVariable: "abc123"}); err != nil {
		t.Fatalf("Up: %v", err)
	}
	logs, err := client.Logs(ctx, 50)
	if err != nil || logs != "homeserver listening" {
		t.Errorf("Logs = %q, %v", logs, err)
	}

	calls := readCalls(t, dir)
	composeFile := filepath.Join(dir, ComposeFileName)
	want := []string{
		"info --format {{.ServerVersion}} token=",
		"ps --filter name=^switchboard-homeserver$ --format {{.Names}} token=",
		"inspect --format {{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}} switchboard-homeserver token=",
		"compose -f " + composeFile + " up -d token=abc123",
		"compose -f " + composeFile + " logs --no-color --tail 50 token=",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %q", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestComposeClientErrorIncludesStderr(t *testing.T) {
	dir := t.TempDir()
	client := fakeDocker(t, dir)

	_, err := client.compose(context.Background(), nil, "fail")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "no such service") {
		t.Errorf("error = %v, want stderr in message", err)
	}
}

func TestRunningIgnoresOtherContainers(t *testing.T) {
	dir := t.TempDir()
	client := fakeDocker(t, dir)
	client.container = "another-homeserver"

	running, err := client.Running(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if running {
		t.Error("Running matched a differently named container")
	}
}
