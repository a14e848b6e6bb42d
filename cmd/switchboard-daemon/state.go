// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/switchboard/lib/fsutil"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/secret"
)

// persistedState is state.yaml. Exactly one of AccessToken and
// SealedAccessToken is set.
type persistedState struct {
	HomeserverURL     string `yaml:"homeserver_url"`
	UserID            string `yaml:"user_id"`
	AccessToken       string `yaml:"access_token,omitempty"`
	SealedAccessToken string `yaml:"sealed_access_token,omitempty"`
	AdminRoomID       string `yaml:"admin_room_id,omitempty"`
}

// stateStore owns state.yaml. Writes are atomic and serialized.
type stateStore struct {
	path       string
	recipients []string
	identity   *secret.Buffer

	mu    sync.Mutex
	state persistedState
}

// openStateStore reads path. A missing file yields an empty store and
// exists=false.
func openStateStore(path string, recipients []string, identity *secret.Buffer) (store *stateStore, exists bool, err error) {
	store = &stateStore{path: path, recipients: recipients, identity: identity}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading state %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &store.state); err != nil {
		return nil, false, fmt.Errorf("parsing state %s: %w", path, err)
	}
	if store.state.UserID == "" {
		return nil, false, fmt.Errorf("state %s has no user_id", path)
	}
	if store.state.AccessToken == "" && store.state.SealedAccessToken == "" {
		return nil, false, fmt.Errorf("state %s has no access token", path)
	}
	return store, true, nil
}

// UserID returns the stored brain account.
func (s *stateStore) UserID() (ref.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ref.ParseUserID(s.state.UserID)
}

// HomeserverURL returns the stored homeserver URL, or fallback when
// none is stored.
func (s *stateStore) HomeserverURL(fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.HomeserverURL == "" {
		return fallback
	}
	return s.state.HomeserverURL
}

// AdminRoomID returns the cached admin room, or the zero RoomID.
func (s *stateStore) AdminRoomID() ref.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.AdminRoomID == "" {
		return ref.RoomID{}
	}
	roomID, err := ref.ParseRoomID(s.state.AdminRoomID)
	if err != nil {
		return ref.RoomID{}
	}
	return roomID
}

// AccessToken returns the stored token, unsealing it when needed.
func (s *stateStore) AccessToken() (*secret.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.SealedAccessToken == "" {
		return secret.NewFromString(s.state.AccessToken)
	}
	if s.identity == nil {
		return nil, fmt.Errorf("access token in %s is sealed and no identity file is configured", s.path)
	}
	token, err := sealed.Decrypt(s.state.SealedAccessToken, s.identity)
	if err != nil {
		return nil, fmt.Errorf("unsealing access token: %w", err)
	}
	return token, nil
}

// SaveSession records a freshly registered session and clears any
// cached admin room, which belonged to the previous account.
func (s *stateStore) SaveSession(homeserverURL string, userID ref.UserID, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := persistedState{
		HomeserverURL: homeserverURL,
		UserID:        userID.String(),
	}
	if len(s.recipients) > 0 {
		ciphertext, err := sealed.Encrypt([]byte(accessToken), s.recipients)
		if err != nil {
			return fmt.Errorf("sealing access token: %w", err)
		}
		next.SealedAccessToken = ciphertext
	} else {
		next.AccessToken = accessToken
	}
	return s.writeLocked(next)
}

// SetAdminRoom persists a newly discovered admin room.
func (s *stateStore) SetAdminRoom(roomID ref.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	next.AdminRoomID = roomID.String()
	return s.writeLocked(next)
}

func (s *stateStore) writeLocked(next persistedState) error {
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing state %s: %w", s.path, err)
	}
	s.state = next
	return nil
}
