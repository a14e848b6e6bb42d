// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminroom

import "strings"

const fence = "```"

// ExtractBlock returns the non-empty, trimmed lines inside the first
// fenced block of body. A body without a fence is treated as one
// block. An unterminated fence runs to the end of the body. The
// fence's info string (```text) is skipped.
func ExtractBlock(body string) []string {
	content := body
	if start := strings.Index(body, fence); start >= 0 {
		content = body[start+len(fence):]
		// Drop the info string on the opening line.
		if newline := strings.IndexByte(content, '\n'); newline >= 0 {
			content = content[newline+1:]
		} else {
			content = ""
		}
		if end := strings.Index(content, fence); end >= 0 {
			content = content[:end]
		}
	}

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// stripBlock returns body with its first fenced block removed.
func stripBlock(body string) string {
	start := strings.Index(body, fence)
	if start < 0 {
		return body
	}
	rest := body[start+len(fence):]
	end := strings.Index(rest, fence)
	if end < 0 {
		return body[:start]
	}
	return body[:start] + rest[end+len(fence):]
}
