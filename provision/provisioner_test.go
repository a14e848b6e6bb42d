// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/testutil"
)

type fakeContainer struct {
	mu        sync.Mutex
	running   bool
	health    string
	daemonErr error
	upErr     error
	calls     map[string]int
	upEnv     map[string]string
}

func newFakeContainer() *fakeContainer {
	return &fakeContainer{health: "starting", calls: make(map[string]int)}
}

func (f *fakeContainer) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeContainer) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeContainer) CheckDaemon(ctx context.Context) (string, error) {
	f.record("CheckDaemon")
	if f.daemonErr != nil {
		return "", f.daemonErr
	}
	return "27.3.1", nil
}

func (f *fakeContainer) Pull(ctx context.Context) error {
	f.record("Pull")
	return nil
}

func (f *fakeContainer) Up(ctx context.Context, env map[string]string) error {
	f.record("Up")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upEnv = env
	if f.upErr != nil {
		return f.upErr
	}
	f.running = true
	return nil
}

func (f *fakeContainer) Down(ctx context.Context) error {
	f.record("Down")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeContainer) Restart(ctx context.Context) error {
	f.record("Restart")
	return nil
}

func (f *fakeContainer) Health(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health, nil
}

func (f *fakeContainer) Logs(ctx context.Context, tail int) (string, error) {
	return "started", nil
}

func (f *fakeContainer) Running(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProvisioner(t *testing.T, container *fakeContainer, modify func(*Config)) (*Provisioner, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.Fake(testEpoch)
	config := Config{
		Dir:       t.TempDir(),
		Container: container,
		PortCheck: func(int) error { return nil },
		Clock:     fakeClock,
	}
	if modify != nil {
		modify(&config)
	}
	p, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, fakeClock
}

func currentToken(t *testing.T, p *Provisioner) string {
	t.Helper()
	token, err := p.RegistrationToken()
	if err != nil {
		t.Fatalf("RegistrationToken: %v", err)
	}
	defer token.Close()
	return token.String()
}

// versionsServer answers /_matrix/client/versions with versions.
func versionsServer(t *testing.T, versions []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/versions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"versions": versions})
	}))
	t.Cleanup(server.Close)
	return server
}

func serverPort(t *testing.T, rawURL string) int {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}

var exampleParams = Params{ServerName: "example.org", Port: 8448}

func TestConfigureIsIdempotent(t *testing.T) {
	container := newFakeContainer()
	p, _ := newTestProvisioner(t, container, nil)
	ctx := context.Background()

	first, err := p.Configure(ctx, exampleParams, ConfigureOptions{})
	if err != nil {
		t.Fatalf("first Configure: %v", err)
	}
	if !first.TokenGenerated || first.Reset {
		t.Errorf("first result = %+v", first)
	}
	firstToken := currentToken(t, p)
	if len(firstToken) != 2*tokenBytes {
		t.Errorf("token length = %d, want %d", len(firstToken), 2*tokenBytes)
	}

	second, err := p.Configure(ctx, exampleParams, ConfigureOptions{})
	if err != nil {
		t.Fatalf("second Configure: %v", err)
	}
	if second.TokenGenerated || second.Reset {
		t.Errorf("second result = %+v, want no token generation and no reset", second)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Error("fingerprint changed for identical params")
	}
	if got := currentToken(t, p); got != firstToken {
		t.Errorf("token changed across identical configure: %q -> %q", firstToken, got)
	}
	if container.count("Down") != 0 {
		t.Error("identical configure stopped the container")
	}
	if p.Phase() != PhaseConfigured {
		t.Errorf("phase = %s", p.Phase())
	}
}

func TestConfigureNonIdentityChangeKeepsToken(t *testing.T) {
	p, _ := newTestProvisioner(t, newFakeContainer(), nil)
	ctx := context.Background()
	if _, err := p.Configure(ctx, exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}
	token := currentToken(t, p)

	changed := exampleParams
	changed.Port = 9000
	changed.Image = "registry.example.org/continuwuity:v0.5"
	result, err := p.Configure(ctx, changed, ConfigureOptions{})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if result.TokenGenerated || result.Reset {
		t.Errorf("result = %+v", result)
	}
	if currentToken(t, p) != token {
		t.Error("port/image change regenerated the token")
	}
}

func TestConfigureIdentityChange(t *testing.T) {
	container := newFakeContainer()
	p, _ := newTestProvisioner(t, container, nil)
	ctx := context.Background()

	if _, err := p.Configure(ctx, exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}
	originalToken := currentToken(t, p)
	database := filepath.Join(p.dataDir(), "db", "CURRENT")
	if err := os.MkdirAll(filepath.Dir(database), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(database, []byte("MANIFEST-000001\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	renamed := Params{ServerName: "other.org", Port: 8448}

	_, err := p.Configure(ctx, renamed, ConfigureOptions{})
	if !errors.Is(err, ErrIdentityChanged) {
		t.Fatalf("unconfirmed rename: err = %v, want ErrIdentityChanged", err)
	}
	if _, statErr := os.Stat(database); statErr != nil {
		t.Error("unconfirmed rename touched the data directory")
	}
	if currentToken(t, p) != originalToken {
		t.Error("unconfirmed rename changed the token")
	}

	result, err := p.Configure(ctx, renamed, ConfigureOptions{Confirm: true})
	if err != nil {
		t.Fatalf("confirmed rename: %v", err)
	}
	if !result.Reset || !result.TokenGenerated {
		t.Errorf("result = %+v, want reset and new token", result)
	}
	if container.count("Down") != 1 {
		t.Errorf("Down called %d times, want 1", container.count("Down"))
	}
	if _, statErr := os.Stat(database); !os.IsNotExist(statErr) {
		t.Error("data directory not wiped")
	}
	renamedToken := currentToken(t, p)
	if renamedToken == originalToken {
		t.Error("token survived a server name change")
	}

	again, err := p.Configure(ctx, renamed, ConfigureOptions{Confirm: true})
	if err != nil {
		t.Fatal(err)
	}
	if again.Reset || again.TokenGenerated {
		t.Errorf("repeat result = %+v", again)
	}
	if container.count("Down") != 1 {
		t.Errorf("repeat configure reset again: Down = %d", container.count("Down"))
	}
	if currentToken(t, p) != renamedToken {
		t.Error("repeat configure changed the token")
	}
}

func TestConfigureIdentityChangeWithoutData(t *testing.T) {
	container := newFakeContainer()
	p, _ := newTestProvisioner(t, container, nil)
	ctx := context.Background()

	if _, err := p.Configure(ctx, exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}
	container.mu.Lock()
	container.running = true
	container.mu.Unlock()

	result, err := p.Configure(ctx, Params{ServerName: "other.org", Port: 8448}, ConfigureOptions{})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	container.mu.Lock()
	running := container.running
	container.mu.Unlock()
	if running {
		t.Error("container still running under the old server name")
	}
	if result.Reset {
		t.Error("reset with an empty data directory")
	}
	if !result.TokenGenerated {
		t.Error("token not regenerated for a new identity")
	}
	if container.count("Down") != 1 {
		t.Errorf("Down called %d times, want 1: the old identity must not keep running", container.count("Down"))
	}
}

func TestConfigureValidation(t *testing.T) {
	p, _ := newTestProvisioner(t, newFakeContainer(), nil)
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"missing server name", Params{Port: 8448}, "servername is required"},
		{"missing port", Params{ServerName: "example.org"}, "port is required"},
		{"port out of range", Params{ServerName: "example.org", Port: 70000}, "port must be at most 65535"},
		{"bad server name", Params{ServerName: "not a host", Port: 8448}, "servername"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := p.Configure(context.Background(), test.params, ConfigureOptions{})
			if !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("err = %v, want ErrInvalidParams", err)
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want it to contain %q", err, test.want)
			}
		})
	}
	if _, err := os.Stat(p.statePath()); !os.IsNotExist(err) {
		t.Error("invalid params wrote state")
	}
}

func TestConfigureSealsToken(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()

	p, _ := newTestProvisioner(t, newFakeContainer(), func(config *Config) {
		config.Recipients = []string{keypair.PublicKey}
		config.Identity = keypair.PrivateKey
	})
	ctx := context.Background()
	if _, err := p.Configure(ctx, exampleParams, ConfigureOptions{}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	token := currentToken(t, p)

	raw, err := os.ReadFile(p.statePath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), token) {
		t.Error("provision.yaml holds the plaintext token")
	}
	state, err := readState(p.statePath())
	if err != nil {
		t.Fatal(err)
	}
	if state.SealedRegistrationToken == "" || state.RegistrationToken != "" {
		t.Errorf("state token fields = %q / %q", state.RegistrationToken, state.SealedRegistrationToken)
	}

	if _, err := p.Configure(ctx, exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}
	if currentToken(t, p) != token {
		t.Error("sealed token not reused")
	}
}

func TestConfigureWritesCompose(t *testing.T) {
	p, _ := newTestProvisioner(t, newFakeContainer(), nil)
	if _, err := p.Configure(context.Background(), exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}
	token := currentToken(t, p)

	raw, err := os.ReadFile(p.composePath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), token) {
		t.Error("compose.yaml holds the registration token")
	}
	var file composeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		t.Fatalf("compose.yaml does not parse: %v", err)
	}
	service, ok := file.Services[serviceName]
	if !ok {
		t.Fatalf("services = %v", file.Services)
	}
	if service.Image != DefaultImage {
		t.Errorf("image = %q", service.Image)
	}
	if service.ContainerName != DefaultContainerName {
		t.Errorf("container_name = %q", service.ContainerName)
	}
	if len(service.Ports) != 1 || service.Ports[0] != "127.0.0.1:8448:6167" {
		t.Errorf("ports = %v", service.Ports)
	}
	if service.Environment["CONTINUWUITY_SERVER_NAME"] != "example.org" {
		t.Errorf("environment = %v", service.Environment)
	}
	if !strings.Contains(service.Environment["CONTINUWUITY_REGISTRATION_TOKEN"], tokenVariable) {
		t.Error("registration token not interpolated from the environment")
	}
}

func TestPreflightExistingContainer(t *testing.T) {
	container := newFakeContainer()
	container.running = true
	portChecked := false
	p, _ := newTestProvisioner(t, container, func(config *Config) {
		config.PortCheck = func(int) error {
			portChecked = true
			return errors.New("in use")
		}
	})

	result, err := p.Preflight(context.Background())
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if !result.Existing {
		t.Error("Existing = false with a running container")
	}
	if container.count("CheckDaemon") != 0 || portChecked {
		t.Error("checks ran despite an existing container")
	}
}

func TestPreflightChecks(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var checkedPort int
		p, _ := newTestProvisioner(t, newFakeContainer(), func(config *Config) {
			config.PortCheck = func(port int) error {
				checkedPort = port
				return nil
			}
		})
		result, err := p.Preflight(context.Background())
		if err != nil {
			t.Fatalf("Preflight: %v", err)
		}
		if result.Existing || !result.PortFree || !result.DataWritable || result.DockerVersion != "27.3.1" {
			t.Errorf("result = %+v", result)
		}
		if checkedPort != DefaultPort {
			t.Errorf("checked port %d, want %d", checkedPort, DefaultPort)
		}
	})

	t.Run("configured port", func(t *testing.T) {
		var checkedPort int
		p, _ := newTestProvisioner(t, newFakeContainer(), func(config *Config) {
			config.PortCheck = func(port int) error {
				checkedPort = port
				return nil
			}
		})
		if _, err := p.Configure(context.Background(), exampleParams, ConfigureOptions{}); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Preflight(context.Background()); err != nil {
			t.Fatal(err)
		}
		if checkedPort != exampleParams.Port {
			t.Errorf("checked port %d, want %d", checkedPort, exampleParams.Port)
		}
	})

	t.Run("port in use", func(t *testing.T) {
		p, _ := newTestProvisioner(t, newFakeContainer(), func(config *Config) {
			config.PortCheck = func(int) error { return errors.New("address already in use") }
		})
		result, err := p.Preflight(context.Background())
		if err == nil || !strings.Contains(err.Error(), "address already in use") {
			t.Fatalf("err = %v", err)
		}
		if result.PortFree || !result.DataWritable {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("no daemon", func(t *testing.T) {
		container := newFakeContainer()
		container.daemonErr = errors.New("cannot connect to the docker daemon")
		p, _ := newTestProvisioner(t, container, nil)
		if _, err := p.Preflight(context.Background()); err == nil {
			t.Fatal("expected error without a docker daemon")
		}
	})
}

func TestStageRequiresConfigure(t *testing.T) {
	p, _ := newTestProvisioner(t, newFakeContainer(), nil)
	ctx := context.Background()
	if err := p.Pull(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Pull: %v", err)
	}
	if err := p.Start(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Start: %v", err)
	}
	if _, err := p.Verify(ctx, ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Verify: %v", err)
	}
	if p.Phase() != PhaseUnconfigured {
		t.Errorf("phase = %s", p.Phase())
	}
}

func TestPull(t *testing.T) {
	container := newFakeContainer()
	p, _ := newTestProvisioner(t, container, nil)
	if _, err := p.Configure(context.Background(), exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := p.Pull(context.Background()); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if container.count("Pull") != 1 || p.Phase() != PhaseConfigured {
		t.Errorf("pull count %d, phase %s", container.count("Pull"), p.Phase())
	}
}

func TestStartContainerHealthy(t *testing.T) {
	container := newFakeContainer()
	container.health = HealthHealthy
	p, _ := newTestProvisioner(t, container, nil)
	if _, err := p.Configure(context.Background(), exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Phase() != PhaseHealthy {
		t.Errorf("phase = %s", p.Phase())
	}
	if container.upEnv[tokenVariable] != currentToken(t, p) {
		t.Error("Up did not receive the registration token")
	}
}

func TestStartHealthyByVersions(t *testing.T) {
	server := versionsServer(t, []string{"v1.11"})
	p, _ := newTestProvisioner(t, newFakeContainer(), nil)
	params := Params{ServerName: "example.org", Port: serverPort(t, server.URL)}
	if _, err := p.Configure(context.Background(), params, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Phase() != PhaseHealthy {
		t.Errorf("phase = %s", p.Phase())
	}
}

// closedPort returns a loopback port with nothing listening.
func closedPort(t *testing.T) int {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	port := serverPort(t, server.URL)
	server.Close()
	return port
}

func TestStartHealthTimeout(t *testing.T) {
	container := newFakeContainer()
	p, fakeClock := newTestProvisioner(t, container, nil)
	params := Params{ServerName: "example.org", Port: closedPort(t)}
	if _, err := p.Configure(context.Background(), params, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	// Probes at 0s, 2s, ... 60s: thirty waits between thirty-one probes.
	polls := int(DefaultHealthTimeout / DefaultHealthInterval)
	for range polls {
		fakeClock.WaitForTimers(1)
		fakeClock.Advance(DefaultHealthInterval)
	}

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Start to give up")
	if !errors.Is(err, ErrHealthTimeout) {
		t.Fatalf("Start: %v, want ErrHealthTimeout", err)
	}
	if p.Phase() != PhaseFailed {
		t.Errorf("phase = %s, want failed", p.Phase())
	}
	status, err := p.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.LastError == "" {
		t.Error("status does not report the timeout")
	}
	if container.count("Up") != 1 {
		t.Errorf("Up called %d times, want 1", container.count("Up"))
	}
}

func TestStartCancelled(t *testing.T) {
	p, fakeClock := newTestProvisioner(t, newFakeContainer(), nil)
	params := Params{ServerName: "example.org", Port: closedPort(t)}
	if _, err := p.Configure(context.Background(), params, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	fakeClock.WaitForTimers(1)
	cancel()

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Start to stop")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start: %v, want context.Canceled", err)
	}
}

// An already-running homeserver is detected by Preflight and verified
// without Start ever running.
func TestExistingContainerScenario(t *testing.T) {
	container := newFakeContainer()
	container.running = true
	container.health = HealthHealthy
	server := versionsServer(t, []string{"r0.6.1", "v1.11"})
	p, _ := newTestProvisioner(t, container, nil)
	ctx := context.Background()

	preflight, err := p.Preflight(ctx)
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if !preflight.Existing {
		t.Fatal("Existing = false")
	}

	result, err := p.Verify(ctx, server.URL)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(result.Versions) == 0 {
		t.Error("Verify returned no versions")
	}
	if container.count("Up") != 0 {
		t.Error("Start ran for an existing container")
	}
	if p.Phase() != PhaseHealthy {
		t.Errorf("phase = %s", p.Phase())
	}

	status, err := p.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.Health != HealthHealthy {
		t.Errorf("status = %+v", status)
	}
}

func TestVerifyRequiresVersions(t *testing.T) {
	server := versionsServer(t, []string{})
	p, _ := newTestProvisioner(t, newFakeContainer(), nil)
	if _, err := p.Verify(context.Background(), server.URL); err == nil {
		t.Fatal("Verify succeeded with an empty version list")
	}
	if p.Phase() == PhaseHealthy {
		t.Error("failed verify marked the homeserver healthy")
	}
}

func TestNewReadsExistingState(t *testing.T) {
	container := newFakeContainer()
	p, _ := newTestProvisioner(t, container, nil)
	if _, err := p.Configure(context.Background(), exampleParams, ConfigureOptions{}); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(Config{Dir: p.dir, Container: container, Clock: clock.Fake(testEpoch)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if reopened.Phase() != PhaseConfigured {
		t.Errorf("phase = %s", reopened.Phase())
	}
	status, err := reopened.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.ServerName != "example.org" || status.Port != 8448 || status.Image != DefaultImage {
		t.Errorf("status = %+v", status)
	}
}
