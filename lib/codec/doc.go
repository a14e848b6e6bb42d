// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides switchboard's CBOR encoding configuration.
//
// JSON is the format for everything that crosses to the homeserver or
// the browser: the Matrix client-server API, the HTTP API, and the SSE
// event stream. CBOR is the format of the Unix control socket between
// the switchboard CLI and the daemon.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same value always produces the same bytes. Types that implement
// encoding.TextMarshaler (ref.RoomID, ref.UserID, ...) encode as CBOR
// text strings.
//
// Socket protocol types carry `json` struct tags only: fxamacker/cbor
// falls back to them when `cbor` tags are absent, and the CLI prints
// the same values as JSON with --json.
package codec
