// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncengine turns the homeserver's /sync stream into domain
// events.
//
// One [Engine] runs per process. Each cycle long-polls /sync with the
// current cursor, advances the cursor from the response before looking
// at its contents, and then emits:
//
//   - one [Message] per new m.room.message in a joined room, in
//     timeline order with rooms visited in sorted ID order. Messages
//     in the admin room and messages sent by the brain or the admin
//     bot are not emitted.
//   - one invitations change carrying the complete pending invite
//     list, whenever a room entered invite or leave state or a
//     previously invited room was joined. The list is re-fetched in
//     full rather than patched.
//
// Listeners run synchronously on the engine goroutine in registration
// order. A panicking listener is recovered and logged. The first sync
// establishes the cursor and the invite list without emitting the
// history it returns. Transport failures back off from one second,
// doubling to five; the loop ends only when its context is cancelled.
package syncengine
