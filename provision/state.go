// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/switchboard/lib/fsutil"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/secret"
)

const stateVersion = 1

// identityDomain separates identity fingerprints from any other
// BLAKE3 use of the same bytes.
const identityDomain = "switchboard.provision.identity.v1\x00"

// tokenBytes is the registration token's entropy before hex encoding.
const tokenBytes = 32

// stateFile is the on-disk form of provision.yaml. Exactly one of the
// token fields is set.
type stateFile struct {
	Version      int       `yaml:"version"`
	Params       Params    `yaml:"params"`
	Fingerprint  string    `yaml:"fingerprint"`
	ConfiguredAt time.Time `yaml:"configured_at"`

	RegistrationToken       string `yaml:"registration_token,omitempty"`
	SealedRegistrationToken string `yaml:"sealed_registration_token,omitempty"`
}

func (s *stateFile) hasToken() bool {
	return s.RegistrationToken != "" || s.SealedRegistrationToken != ""
}

// identityFingerprint hashes the parameters the homeserver binds into
// its database. Only the server name qualifies today.
func identityFingerprint(params Params) string {
	sum := blake3.Sum256([]byte(identityDomain + strings.ToLower(params.ServerName)))
	return hex.EncodeToString(sum[:])
}

// generateToken returns a fresh hex registration token.
func generateToken() (*secret.Buffer, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	encoded := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(encoded, raw)
	secret.Zero(raw)
	return secret.NewFromBytes(encoded)
}

// storeToken puts token into state, sealed when recipients are given.
func storeToken(state *stateFile, token *secret.Buffer, recipients []string) error {
	state.RegistrationToken = ""
	state.SealedRegistrationToken = ""
	if len(recipients) == 0 {
		state.RegistrationToken = token.String()
		return nil
	}
	ciphertext, err := sealed.Encrypt(token.Bytes(), recipients)
	if err != nil {
		return fmt.Errorf("sealing registration token: %w", err)
	}
	state.SealedRegistrationToken = ciphertext
	return nil
}

// loadToken returns the registration token held in state. identity is
// required when the token is sealed. The caller closes the buffer.
func loadToken(state *stateFile, identity *secret.Buffer) (*secret.Buffer, error) {
	switch {
	case state.SealedRegistrationToken != "":
		if identity == nil {
			return nil, fmt.Errorf("registration token is sealed and no age identity is configured")
		}
		token, err := sealed.Decrypt(state.SealedRegistrationToken, identity)
		if err != nil {
			return nil, fmt.Errorf("unsealing registration token: %w", err)
		}
		return token, nil
	case state.RegistrationToken != "":
		return secret.NewFromString(state.RegistrationToken)
	}
	return nil, fmt.Errorf("no registration token in %s", StateFileName)
}

// readState returns nil, nil when path does not exist.
func readState(path string) (*stateFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var state stateFile
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("%s has version %d, want %d", path, state.Version, stateVersion)
	}
	return &state, nil
}

func writeState(path string, state *stateFile) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", StateFileName, err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}
