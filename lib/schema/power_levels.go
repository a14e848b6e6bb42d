// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// PowerLevelOwner is the conventional level of a room's creator.
const PowerLevelOwner = 100

// PowerLevels is the subset of m.room.power_levels content the
// classifier reads to decide whether an account holds owner power.
type PowerLevels struct {
	Users        map[string]int `json:"users,omitempty"`
	UsersDefault *int           `json:"users_default,omitempty"`
}

// UserLevel returns the level for userID: its explicit entry, else
// users_default, else 0.
func (powerLevels *PowerLevels) UserLevel(userID string) int {
	if level, ok := powerLevels.Users[userID]; ok {
		return level
	}
	if powerLevels.UsersDefault != nil {
		return *powerLevels.UsersDefault
	}
	return 0
}
