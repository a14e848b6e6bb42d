// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"errors"
	"time"
)

// Phase is the provisioner's position in the pipeline.
type Phase string

const (
	PhaseUnconfigured Phase = "unconfigured"
	PhaseConfigured   Phase = "configured"
	PhasePulling      Phase = "pulling"
	PhaseStarting     Phase = "starting"
	PhaseHealthy      Phase = "healthy"
	PhaseFailed       Phase = "failed"
)

var allPhases = []Phase{
	PhaseUnconfigured, PhaseConfigured, PhasePulling,
	PhaseStarting, PhaseHealthy, PhaseFailed,
}

var (
	// ErrHealthTimeout is returned by Start when the homeserver does
	// not become healthy within the health window.
	ErrHealthTimeout = errors.New("provision: homeserver did not become healthy")

	// ErrIdentityChanged is returned by Configure when the server name
	// differs from the provisioned one, data exists, and the caller
	// has not confirmed the reset.
	ErrIdentityChanged = errors.New("provision: server name changed; existing data must be wiped")

	// ErrInvalidParams wraps Params validation failures.
	ErrInvalidParams = errors.New("provision: invalid params")

	// ErrNotConfigured is returned by stages that need Configure to
	// have run.
	ErrNotConfigured = errors.New("provision: not configured")
)

// Params are the operator-chosen homeserver settings.
type Params struct {
	// ServerName is the homeserver's identity (the part after the
	// colon in every user and room ID). Changing it wipes data.
	ServerName string `json:"server_name" yaml:"server_name" validate:"required,fqdn|hostname_rfc1123"`

	// Port is the host port the homeserver listens on.
	Port int `json:"port" yaml:"port" validate:"required,min=1,max=65535"`

	// Image is the container image. Empty means DefaultImage.
	Image string `json:"image,omitempty" yaml:"image,omitempty" validate:"omitempty,min=3"`

	// AllowFederation enables the federation listener.
	AllowFederation bool `json:"allow_federation,omitempty" yaml:"allow_federation,omitempty"`
}

// ConfigureOptions modify a Configure call.
type ConfigureOptions struct {
	// Confirm allows the destructive reset a server name change
	// requires.
	Confirm bool
}

// PreflightResult reports what Preflight found.
type PreflightResult struct {
	// Existing is true when a homeserver container is already running.
	// No other checks run in that case.
	Existing bool `json:"existing"`

	DockerVersion string `json:"docker_version,omitempty"`
	Port          int    `json:"port,omitempty"`
	PortFree      bool   `json:"port_free"`
	DataWritable  bool   `json:"data_writable"`
}

// ConfigureResult reports what Configure changed.
type ConfigureResult struct {
	Fingerprint    string `json:"fingerprint"`
	TokenGenerated bool   `json:"token_generated"`
	Reset          bool   `json:"reset"`
}

// VerifyResult is a successful Verify.
type VerifyResult struct {
	URL      string   `json:"url"`
	Versions []string `json:"versions"`
}

// Status is a snapshot of the provisioner.
type Status struct {
	Phase       Phase     `json:"phase"`
	ServerName  string    `json:"server_name,omitempty"`
	Port        int       `json:"port,omitempty"`
	Image       string    `json:"image,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Running     bool      `json:"running"`
	Health      string    `json:"health,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}
