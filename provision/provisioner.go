// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/fsutil"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/secret"
	"github.com/bureau-foundation/switchboard/messaging"
)

// Defaults for Config fields left zero.
const (
	DefaultPort           = 6167
	DefaultHealthInterval = 2 * time.Second
	DefaultHealthTimeout  = 60 * time.Second

	probeTimeout = 5 * time.Second
)

// Config configures a Provisioner.
type Config struct {
	// Dir is the working directory holding compose.yaml,
	// provision.yaml, and the data directory. Required.
	Dir string

	// Container controls the homeserver container. Defaults to a
	// ComposeClient for Dir and ContainerName.
	Container ContainerClient

	// ContainerName defaults to DefaultContainerName.
	ContainerName string

	// Recipients are age public keys. When set, the registration token
	// is sealed in provision.yaml.
	Recipients []string

	// Identity is the age private key that unseals the token. Borrowed;
	// the caller keeps ownership.
	Identity *secret.Buffer

	// DefaultPort is checked by Preflight before anything is
	// configured. Defaults to DefaultPort.
	DefaultPort int

	HealthInterval time.Duration
	HealthTimeout  time.Duration

	// HTTPClient is used for version probes. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// PortCheck returns nil when port can be bound. Defaults to a
	// trial listen on the loopback interface.
	PortCheck func(port int) error

	Clock  clock.Clock
	Logger *slog.Logger
}

// Provisioner runs the provisioning pipeline. Stages are serialized;
// Status may be called at any time.
type Provisioner struct {
	dir            string
	container      ContainerClient
	containerName  string
	recipients     []string
	identity       *secret.Buffer
	defaultPort    int
	healthInterval time.Duration
	healthTimeout  time.Duration
	httpClient     *http.Client
	portCheck      func(port int) error
	clock          clock.Clock
	logger         *slog.Logger
	validate       *validator.Validate

	// stageMu serializes pipeline stages.
	stageMu sync.Mutex

	statusMu  sync.Mutex
	phase     Phase
	lastError string
	updatedAt time.Time
}

// New returns a Provisioner. The starting phase is configured when
// provision.yaml exists and unconfigured otherwise.
func New(config Config) (*Provisioner, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("provision: Dir is required")
	}
	containerName := config.ContainerName
	if containerName == "" {
		containerName = DefaultContainerName
	}
	container := config.Container
	if container == nil {
		container = NewComposeClient(config.Dir, containerName)
	}
	defaultPort := config.DefaultPort
	if defaultPort == 0 {
		defaultPort = DefaultPort
	}
	healthInterval := config.HealthInterval
	if healthInterval == 0 {
		healthInterval = DefaultHealthInterval
	}
	healthTimeout := config.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = DefaultHealthTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	portCheck := config.PortCheck
	if portCheck == nil {
		portCheck = listenCheck
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provisioner{
		dir:            config.Dir,
		container:      container,
		containerName:  containerName,
		recipients:     config.Recipients,
		identity:       config.Identity,
		defaultPort:    defaultPort,
		healthInterval: healthInterval,
		healthTimeout:  healthTimeout,
		httpClient:     httpClient,
		portCheck:      portCheck,
		clock:          timeSource,
		logger:         logger,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}

	state, err := readState(p.statePath())
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	if state != nil {
		p.setPhase(PhaseConfigured, nil)
	} else {
		p.setPhase(PhaseUnconfigured, nil)
	}
	return p, nil
}

func (p *Provisioner) statePath() string   { return filepath.Join(p.dir, StateFileName) }
func (p *Provisioner) composePath() string { return filepath.Join(p.dir, ComposeFileName) }
func (p *Provisioner) dataDir() string     { return filepath.Join(p.dir, DataDirName) }

func listenCheck(port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return listener.Close()
}

// setPhase records phase and exports it as a gauge. A non-nil err is
// kept as the last error; a nil err clears it.
func (p *Provisioner) setPhase(phase Phase, err error) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.phase = phase
	p.lastError = ""
	if err != nil {
		p.lastError = err.Error()
	}
	p.updatedAt = p.clock.Now()
	for _, candidate := range allPhases {
		value := 0.0
		if candidate == phase {
			value = 1
		}
		metrics.ProvisionPhase.WithLabelValues(string(candidate)).Set(value)
	}
}

// Phase returns the current phase.
func (p *Provisioner) Phase() Phase {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.phase
}

// Preflight checks whether the host can run the homeserver. A running
// homeserver container short-circuits every other check.
func (p *Provisioner) Preflight(ctx context.Context) (*PreflightResult, error) {
	p.stageMu.Lock()
	defer p.stageMu.Unlock()

	running, err := p.container.Running(ctx)
	if err != nil {
		p.logger.Debug("container state unavailable during preflight", "error", err)
	}
	if running {
		p.logger.Info("preflight found a running homeserver container")
		return &PreflightResult{Existing: true}, nil
	}

	result := &PreflightResult{}
	version, err := p.container.CheckDaemon(ctx)
	if err != nil {
		return result, fmt.Errorf("provision: %w", err)
	}
	result.DockerVersion = version

	result.Port = p.defaultPort
	state, err := readState(p.statePath())
	if err != nil {
		return result, fmt.Errorf("provision: %w", err)
	}
	if state != nil {
		result.Port = state.Params.Port
	}

	var failures []error
	if err := p.portCheck(result.Port); err != nil {
		failures = append(failures, fmt.Errorf("port %d is not available: %w", result.Port, err))
	} else {
		result.PortFree = true
	}
	if err := fsutil.CheckWritable(p.dataDir()); err != nil {
		failures = append(failures, fmt.Errorf("data directory: %w", err))
	} else {
		result.DataWritable = true
	}
	if len(failures) > 0 {
		return result, fmt.Errorf("provision: preflight failed: %w", errors.Join(failures...))
	}
	return result, nil
}

// Configure writes compose.yaml and provision.yaml for params. The
// registration token is generated on first configure and whenever the
// server name changes; otherwise it is kept exactly as stored. A
// server name change with existing data returns ErrIdentityChanged
// unless options.Confirm is set, in which case the container is
// stopped and the data directory wiped before anything is written.
// With no data to wipe the container is still stopped, since it runs
// under the old identity.
func (p *Provisioner) Configure(ctx context.Context, params Params, options ConfigureOptions) (*ConfigureResult, error) {
	if err := validateParams(p.validate, params); err != nil {
		return nil, err
	}

	p.stageMu.Lock()
	defer p.stageMu.Unlock()

	previous, err := readState(p.statePath())
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}

	fingerprint := identityFingerprint(params)
	result := &ConfigureResult{Fingerprint: fingerprint}
	identityChanged := previous != nil && previous.Fingerprint != fingerprint

	if identityChanged {
		empty, err := fsutil.DirEmpty(p.dataDir())
		if err != nil {
			return nil, fmt.Errorf("provision: inspecting data directory: %w", err)
		}
		if !empty {
			if !options.Confirm {
				return nil, fmt.Errorf("%w (%s -> %s)", ErrIdentityChanged, previous.Params.ServerName, params.ServerName)
			}
			if err := p.reset(ctx, previous.Params.ServerName, params.ServerName); err != nil {
				p.setPhase(PhaseFailed, err)
				return nil, err
			}
			result.Reset = true
		} else {
			p.logger.Info("server name changed, stopping homeserver",
				"from", previous.Params.ServerName,
				"to", params.ServerName,
			)
			if err := p.container.Down(ctx); err != nil {
				err = fmt.Errorf("provision: stopping homeserver after identity change: %w", err)
				p.setPhase(PhaseFailed, err)
				return nil, err
			}
		}
	}

	if err := os.MkdirAll(p.dataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("provision: creating data directory: %w", err)
	}

	next := &stateFile{
		Version:      stateVersion,
		Params:       params,
		Fingerprint:  fingerprint,
		ConfiguredAt: p.clock.Now().UTC(),
	}
	if previous != nil && !identityChanged && previous.hasToken() {
		next.RegistrationToken = previous.RegistrationToken
		next.SealedRegistrationToken = previous.SealedRegistrationToken
		if next.RegistrationToken != "" && len(p.recipients) > 0 {
			token, err := secret.NewFromString(next.RegistrationToken)
			if err != nil {
				return nil, fmt.Errorf("provision: %w", err)
			}
			err = storeToken(next, token, p.recipients)
			token.Close()
			if err != nil {
				return nil, fmt.Errorf("provision: %w", err)
			}
		}
	} else {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("provision: generating registration token: %w", err)
		}
		err = storeToken(next, token, p.recipients)
		token.Close()
		if err != nil {
			return nil, fmt.Errorf("provision: %w", err)
		}
		result.TokenGenerated = true
	}

	compose, err := renderCompose(params, p.containerName)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	if err := fsutil.WriteFileAtomic(p.composePath(), compose, 0o644); err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	if err := writeState(p.statePath(), next); err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}

	unchanged := previous != nil && previous.Params == params
	if !(unchanged && p.Phase() == PhaseHealthy) {
		p.setPhase(PhaseConfigured, nil)
	}
	p.logger.Info("homeserver configured",
		"server_name", params.ServerName,
		"port", params.Port,
		"token_generated", result.TokenGenerated,
		"reset", result.Reset,
	)
	return result, nil
}

// reset stops the container and wipes the data directory.
func (p *Provisioner) reset(ctx context.Context, from, to string) error {
	p.logger.Warn("server name changed, wiping homeserver data",
		"from", from,
		"to", to,
		"data_dir", p.dataDir(),
	)
	if err := p.container.Down(ctx); err != nil {
		return fmt.Errorf("provision: stopping homeserver before reset: %w", err)
	}
	if err := os.RemoveAll(p.dataDir()); err != nil {
		return fmt.Errorf("provision: wiping data directory: %w", err)
	}
	return nil
}

// Pull fetches the homeserver image.
func (p *Provisioner) Pull(ctx context.Context) error {
	p.stageMu.Lock()
	defer p.stageMu.Unlock()

	if _, err := p.requireState(); err != nil {
		return err
	}
	p.setPhase(PhasePulling, nil)
	if err := p.container.Pull(ctx); err != nil {
		err = fmt.Errorf("provision: pulling image: %w", err)
		p.setPhase(PhaseFailed, err)
		return err
	}
	p.setPhase(PhaseConfigured, nil)
	return nil
}

// Start brings the container up and waits for it to become healthy,
// polling every health interval until the health timeout. A timeout
// leaves the phase failed and returns ErrHealthTimeout; Start is not
// retried automatically.
func (p *Provisioner) Start(ctx context.Context) error {
	p.stageMu.Lock()
	defer p.stageMu.Unlock()

	state, err := p.requireState()
	if err != nil {
		return err
	}
	token, err := loadToken(state, p.identity)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	env := map[string]string{tokenVariable: token.String()}
	token.Close()

	p.setPhase(PhaseStarting, nil)
	if err := p.container.Up(ctx, env); err != nil {
		err = fmt.Errorf("provision: starting homeserver: %w", err)
		p.setPhase(PhaseFailed, err)
		return err
	}
	if err := p.waitHealthy(ctx, localURL(state.Params.Port)); err != nil {
		p.setPhase(PhaseFailed, err)
		return err
	}
	p.setPhase(PhaseHealthy, nil)
	return nil
}

// Restart restarts the container and waits for health like Start.
func (p *Provisioner) Restart(ctx context.Context) error {
	p.stageMu.Lock()
	defer p.stageMu.Unlock()

	state, err := p.requireState()
	if err != nil {
		return err
	}
	p.setPhase(PhaseStarting, nil)
	if err := p.container.Restart(ctx); err != nil {
		err = fmt.Errorf("provision: restarting homeserver: %w", err)
		p.setPhase(PhaseFailed, err)
		return err
	}
	if err := p.waitHealthy(ctx, localURL(state.Params.Port)); err != nil {
		p.setPhase(PhaseFailed, err)
		return err
	}
	p.setPhase(PhaseHealthy, nil)
	return nil
}

func (p *Provisioner) waitHealthy(ctx context.Context, url string) error {
	deadline := p.clock.Now().Add(p.healthTimeout)
	for {
		if p.probe(ctx, url) {
			return nil
		}
		if !p.clock.Now().Before(deadline) {
			return fmt.Errorf("%w within %s", ErrHealthTimeout, p.healthTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("provision: waiting for health: %w", ctx.Err())
		case <-p.clock.After(p.healthInterval):
		}
	}
}

// probe reports whether the homeserver is healthy by container health
// or, failing that, by answering the versions endpoint.
func (p *Provisioner) probe(ctx context.Context, url string) bool {
	health, err := p.container.Health(ctx)
	if err == nil && health == HealthHealthy {
		metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := p.versions(probeCtx, url); err != nil {
		result := "unhealthy"
		if messaging.IsTransient(err) {
			result = "error"
		}
		metrics.HealthChecksTotal.WithLabelValues(result).Inc()
		p.logger.Debug("homeserver not healthy yet",
			"container_health", health,
			"transient", messaging.IsTransient(err),
			"error", err,
		)
		return false
	}
	metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
	return true
}

func (p *Provisioner) versions(ctx context.Context, url string) ([]string, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: url,
		HTTPClient:    p.httpClient,
		Logger:        p.logger,
	})
	if err != nil {
		return nil, err
	}
	response, err := client.ServerVersions(ctx)
	if err != nil {
		return nil, err
	}
	if len(response.Versions) == 0 {
		return nil, fmt.Errorf("provision: %s reports no supported versions", url)
	}
	return response.Versions, nil
}

func localURL(port int) string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// Verify checks that the homeserver at url answers the versions
// endpoint with at least one version. An empty url means the locally
// provisioned homeserver.
func (p *Provisioner) Verify(ctx context.Context, url string) (*VerifyResult, error) {
	if url == "" {
		state, err := p.requireState()
		if err != nil {
			return nil, err
		}
		url = localURL(state.Params.Port)
	}
	versions, err := p.versions(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("provision: verifying %s: %w", url, err)
	}
	if p.Phase() != PhaseHealthy {
		p.setPhase(PhaseHealthy, nil)
	}
	return &VerifyResult{URL: url, Versions: versions}, nil
}

// Status reports the phase, the configured parameters, and the
// container's live state. Container query failures leave Running false.
func (p *Provisioner) Status(ctx context.Context) (*Status, error) {
	p.statusMu.Lock()
	status := &Status{
		Phase:     p.phase,
		LastError: p.lastError,
		UpdatedAt: p.updatedAt,
	}
	p.statusMu.Unlock()

	state, err := readState(p.statePath())
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	if state != nil {
		status.ServerName = state.Params.ServerName
		status.Port = state.Params.Port
		status.Image = state.Params.Image
		if status.Image == "" {
			status.Image = DefaultImage
		}
		status.Fingerprint = state.Fingerprint
	}

	if running, err := p.container.Running(ctx); err == nil {
		status.Running = running
	}
	if status.Running {
		if health, err := p.container.Health(ctx); err == nil {
			status.Health = health
		}
	}
	return status, nil
}

// Logs returns the last tail lines of homeserver output.
func (p *Provisioner) Logs(ctx context.Context, tail int) (string, error) {
	return p.container.Logs(ctx, tail)
}

// RegistrationToken returns the stored registration token. The caller
// closes the buffer.
func (p *Provisioner) RegistrationToken() (*secret.Buffer, error) {
	state, err := p.requireState()
	if err != nil {
		return nil, err
	}
	token, err := loadToken(state, p.identity)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	return token, nil
}

func (p *Provisioner) requireState() (*stateFile, error) {
	state, err := readState(p.statePath())
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	if state == nil {
		return nil, ErrNotConfigured
	}
	return state, nil
}
