// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state or timeline event type. It is a
// named string rather than a validated struct: event types need no
// parsing, the type only keeps them from being confused with state keys
// or message bodies. Constants live in lib/schema.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }
