// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the switchboard daemon configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"oneof=development production"`

	Paths      PathsConfig      `yaml:"paths"`
	Homeserver HomeserverConfig `yaml:"homeserver"`
	API        APIConfig        `yaml:"api"`
	Brain      BrainConfig      `yaml:"brain"`
	Provision  ProvisionConfig  `yaml:"provision"`

	// Override sections are merged before validation and are not
	// validated on their own.
	Development *ConfigOverrides `yaml:"development,omitempty" validate:"-"`
	Production  *ConfigOverrides `yaml:"production,omitempty" validate:"-"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Only non-zero fields replace base values.
type ConfigOverrides struct {
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Homeserver *HomeserverConfig `yaml:"homeserver,omitempty"`
	API        *APIConfig        `yaml:"api,omitempty"`
	Provision  *ProvisionConfig  `yaml:"provision,omitempty"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for switchboard data.
	Root string `yaml:"root" validate:"required"`

	// State is the persisted state document: homeserver URL, brain
	// user ID, access token, and the discovered admin room.
	State string `yaml:"state" validate:"required"`

	// Homeserver is the directory holding compose.yaml, provision.yaml,
	// and the homeserver's data volume.
	Homeserver string `yaml:"homeserver" validate:"required"`

	// Socket is the CBOR control socket used by the CLI.
	Socket string `yaml:"socket" validate:"required"`
}

// HomeserverConfig describes the chat homeserver the brain talks to.
type HomeserverConfig struct {
	URL        string `yaml:"url" validate:"required,url"`
	ServerName string `yaml:"server_name" validate:"required,hostname_rfc1123"`

	// AdminBot is the user ID of the server's admin bot. Empty means
	// @conduit:<server_name>.
	AdminBot string `yaml:"admin_bot"`
}

// APIConfig configures the HTTP API served to the operator UI.
type APIConfig struct {
	Listen          string        `yaml:"listen" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BrainConfig tunes the control plane.
type BrainConfig struct {
	// Localpart is the brain account registered on first start.
	Localpart string `yaml:"localpart" validate:"required"`

	SyncTimeout      time.Duration `yaml:"sync_timeout" validate:"gt=0"`
	CommandAttempts  int           `yaml:"command_attempts" validate:"gte=1"`
	CommandInterval  time.Duration `yaml:"command_interval" validate:"gt=0"`
	ClassifyWorkers  int           `yaml:"classify_workers" validate:"gte=1"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" validate:"gte=1"`
}

// ProvisionConfig configures the homeserver container.
type ProvisionConfig struct {
	// Image is used when a configure request names none.
	Image         string `yaml:"image" validate:"required"`
	ContainerName string `yaml:"container_name" validate:"required"`
	Port          int    `yaml:"port" validate:"gte=1,lte=65535"`

	// SealRecipient is an age public key. When set, the registration
	// token is stored encrypted in provision.yaml.
	SealRecipient string `yaml:"seal_recipient"`

	// IdentityFile is the age identity that decrypts a sealed token.
	IdentityFile string `yaml:"identity_file"`

	HealthInterval time.Duration `yaml:"health_interval" validate:"gt=0"`
	HealthTimeout  time.Duration `yaml:"health_timeout" validate:"gt=0"`
}

// Default returns the base configuration the config file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "switchboard")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       root,
			State:      "${SWITCHBOARD_ROOT}/state.yaml",
			Homeserver: "${SWITCHBOARD_ROOT}/homeserver",
			Socket:     "${SWITCHBOARD_ROOT}/switchboard.sock",
		},
		Homeserver: HomeserverConfig{
			URL:        "http://localhost:6167",
			ServerName: "switchboard.local",
		},
		API: APIConfig{
			Listen:          "127.0.0.1:8420",
			ShutdownTimeout: 5 * time.Second,
		},
		Brain: BrainConfig{
			Localpart:        "switchboard",
			SyncTimeout:      30 * time.Second,
			CommandAttempts:  10,
			CommandInterval:  500 * time.Millisecond,
			ClassifyWorkers:  8,
			SubscriberBuffer: 64,
		},
		Provision: ProvisionConfig{
			Image:          "ghcr.io/continuwuity/continuwuity:latest",
			ContainerName:  "switchboard-homeserver",
			Port:           6167,
			HealthInterval: 2 * time.Second,
			HealthTimeout:  60 * time.Second,
		},
	}
}

// Load loads configuration from the file named by SWITCHBOARD_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("SWITCHBOARD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SWITCHBOARD_CONFIG environment variable not set; " +
			"set it to the path of your switchboard.yaml, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the matching
// environment section, and expands path variables. It does not
// validate; callers call Validate once any flag overrides are applied.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		setString(&c.Paths.Root, paths.Root)
		setString(&c.Paths.State, paths.State)
		setString(&c.Paths.Homeserver, paths.Homeserver)
		setString(&c.Paths.Socket, paths.Socket)
	}
	if homeserver := overrides.Homeserver; homeserver != nil {
		setString(&c.Homeserver.URL, homeserver.URL)
		setString(&c.Homeserver.ServerName, homeserver.ServerName)
		setString(&c.Homeserver.AdminBot, homeserver.AdminBot)
	}
	if api := overrides.API; api != nil {
		setString(&c.API.Listen, api.Listen)
		if api.ShutdownTimeout != 0 {
			c.API.ShutdownTimeout = api.ShutdownTimeout
		}
	}
	if provision := overrides.Provision; provision != nil {
		setString(&c.Provision.Image, provision.Image)
		setString(&c.Provision.ContainerName, provision.ContainerName)
		setString(&c.Provision.SealRecipient, provision.SealRecipient)
		setString(&c.Provision.IdentityFile, provision.IdentityFile)
		if provision.Port != 0 {
			c.Provision.Port = provision.Port
		}
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func (c *Config) expandVariables() {
	vars := map[string]string{
		"SWITCHBOARD_ROOT": c.Paths.Root,
		"HOME":             os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SWITCHBOARD_ROOT"] = c.Paths.Root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Homeserver = expandVars(c.Paths.Homeserver, vars)
	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Provision.IdentityFile = expandVars(c.Provision.IdentityFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default}. Known vars win over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. All field failures are reported
// together.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	errs := make([]error, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		errs = append(errs, fmt.Errorf("%s: failed %q (value %v)",
			fieldError.Namespace(), fieldError.Tag(), fieldError.Value()))
	}
	return errors.Join(errs...)
}

// AdminBotID returns the configured admin bot, or @conduit:<server_name>.
func (c *Config) AdminBotID() string {
	if c.Homeserver.AdminBot != "" {
		return c.Homeserver.AdminBot
	}
	return "@conduit:" + c.Homeserver.ServerName
}

// EnsurePaths creates the directories the daemon writes into.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.State),
		c.Paths.Homeserver,
		filepath.Dir(c.Paths.Socket),
	} {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
