// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Container health values returned by ContainerClient.Health. Docker
// reports "starting", "healthy", or "unhealthy" for containers with a
// healthcheck.
const (
	HealthNone    = "none"
	HealthHealthy = "healthy"
)

// ContainerClient controls the homeserver container.
type ContainerClient interface {
	// CheckDaemon returns the docker server version, or an error when
	// the daemon is unreachable.
	CheckDaemon(ctx context.Context) (string, error)

	Pull(ctx context.Context) error

	// Up creates and starts the container in the background. env is
	// added to the compose process environment for interpolation.
	Up(ctx context.Context, env map[string]string) error

	// Down stops and removes the container.
	Down(ctx context.Context) error

	Restart(ctx context.Context) error

	// Health returns the container's health status, or HealthNone
	// when it has no healthcheck.
	Health(ctx context.Context) (string, error)

	// Logs returns the last tail lines of container output.
	Logs(ctx context.Context, tail int) (string, error)

	// Running reports whether the container exists and is running.
	Running(ctx context.Context) (bool, error)
}

// ComposeClient implements ContainerClient with the docker CLI and a
// compose file in a project directory.
type ComposeClient struct {
	binary    string
	dir       string
	container string
}

var _ ContainerClient = (*ComposeClient)(nil)

// NewComposeClient returns a client for the compose project in dir
// whose homeserver container is named container.
func NewComposeClient(dir, container string) *ComposeClient {
	return &ComposeClient{binary: "docker", dir: dir, container: container}
}

// run executes docker with args and returns trimmed stdout. Stderr is
// captured for the error message.
func (c *ComposeClient) run(ctx context.Context, env map[string]string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, c.binary, args...)
	command.Dir = c.dir
	command.Stdout = &stdout
	command.Stderr = &stderr
	if len(env) > 0 {
		command.Env = append(os.Environ(), environ(env)...)
	}

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *ComposeClient) compose(ctx context.Context, env map[string]string, args ...string) (string, error) {
	full := append([]string{"compose", "-f", filepath.Join(c.dir, ComposeFileName)}, args...)
	return c.run(ctx, env, full...)
}

// environ renders env as KEY=value entries in key order.
func environ(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		result = append(result, key+"="+env[key])
	}
	return result
}

func (c *ComposeClient) CheckDaemon(ctx context.Context) (string, error) {
	version, err := c.run(ctx, nil, "info", "--format", "{{.ServerVersion}}")
	if err != nil {
		return "", fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return version, nil
}

func (c *ComposeClient) Pull(ctx context.Context) error {
	_, err := c.compose(ctx, nil, "pull")
	return err
}

func (c *ComposeClient) Up(ctx context.Context, env map[string]string) error {
	_, err := c.compose(ctx, env, "up", "-d")
	return err
}

func (c *ComposeClient) Down(ctx context.Context) error {
	_, err := c.compose(ctx, nil, "down")
	return err
}

func (c *ComposeClient) Restart(ctx context.Context) error {
	_, err := c.compose(ctx, nil, "restart")
	return err
}

func (c *ComposeClient) Health(ctx context.Context) (string, error) {
	status, err := c.run(ctx, nil, "inspect", "--format",
		"{{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}", c.container)
	if err != nil {
		return "", err
	}
	return status, nil
}

func (c *ComposeClient) Logs(ctx context.Context, tail int) (string, error) {
	return c.compose(ctx, nil, "logs", "--no-color", "--tail", strconv.Itoa(tail))
}

func (c *ComposeClient) Running(ctx context.Context) (bool, error) {
	names, err := c.run(ctx, nil, "ps", "--filter", "name=^"+c.container+"$", "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	for _, name := range strings.Fields(names) {
		if name == c.container {
			return true, nil
		}
	}
	return false, nil
}
