// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP and connection helpers shared by the
// homeserver client, the provisioner's health probe, and the control
// socket.
//
// Response helpers bound every body read at MaxResponseSize. They are
// for JSON API responses only; the SSE event stream is written
// incrementally and never buffered through them.
package netutil

import "io"

// MaxResponseSize bounds JSON API response body reads at 256 MB.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ErrorBody returns a response body as a string for error messages.
// Read failures yield whatever was read before the failure.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return string(data)
}
