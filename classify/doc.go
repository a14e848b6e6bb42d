// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package classify derives typed accounts and rooms from the untyped
// rooms on the homeserver.
//
// A room's function is declared by an m.switchboard.room_kind state
// event. [Classifier.Classify] enumerates every room through the admin
// bot (the brain need not be a member), reads each room's declaration
// concurrently, and buckets the members of typed rooms into account
// roles. A room whose state cannot be read is left out of the
// snapshot and reported in [Snapshot.Gaps]; the scan itself still
// succeeds. Untyped rooms are ignored.
//
// The scan has no side effects and is deterministic: rooms are merged
// in sorted ID order and role conflicts resolve by a fixed precedence,
// so two scans of an unchanged server produce equal snapshots.
//
// [Classifier.KindOf] is the single-room read the router uses to type
// rooms it has not seen before.
package classify
