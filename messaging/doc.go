// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for the
// switchboard brain.
//
// [Client] is an unauthenticated client holding the homeserver URL and
// HTTP transport. It registers accounts (token-authenticated UIAA),
// logs in, probes /versions, and turns an access token into a
// [DirectSession].
//
// [Session] is the interface the control plane is written against:
// sending messages, reading room state and timelines, joined rooms and
// members, joining, leaving, inviting, creating rooms, resolving
// aliases, and long-poll /sync. [DirectSession] implements it over
// HTTP with the access token held in a [secret.Buffer]; tests use the
// in-memory fake in messagingtest.
//
// Homeserver error responses are returned as [*MatrixError].
// [IsTransient] separates failures worth retrying (transport errors,
// 429, 5xx) from ones that are not.
package messaging
