// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the server scaffolding the switchboard
// daemon composes in main():
//
//   - [SocketServer]: a CBOR request/response protocol on a Unix
//     socket, one request per connection, dispatched by action name.
//     The switchboard CLI talks to the daemon through it.
//   - [SocketClient]: the matching client.
//   - [HTTPServer]: listener lifecycle and graceful shutdown for the
//     operator HTTP API.
//
// Both servers follow the same lifecycle: Serve(ctx) blocks until ctx
// is cancelled and in-flight requests drain.
//
// Anyone who can open the socket file can drive the brain; the socket
// is created with mode 0600.
package service
