// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adminroom turns the homeserver's admin bot into a
// request/response channel.
//
// The homeserver exposes no administrative HTTP API. Privileged
// operations are plain-text commands ("!admin users list-users") sent
// into a room shared with the bot account, and the result is whatever
// the bot posts next. The transport carries no request ID, so a
// [Channel] correlates by position and time: it records the newest
// event in the room before sending (the anchor), remembers the send
// timestamp, and accepts the first bot message that is not the anchor
// and is not older than the send.
//
// A Channel is constructed once per process. It discovers the admin
// room on first use and caches it; the daemon persists the discovered
// room through [Config.OnDiscover] so the next start skips the scan.
// Commands are not multiplexed: two concurrent Execute calls can
// observe each other's replies, so callers serialize related commands.
//
// The typed helpers ([Channel.ListUsers], [Channel.ListRooms],
// [Channel.CreateUser], ...) parse the bot's replies, which embed
// structured output in a fenced block. [ExtractBlock] is the shared
// parser for that block.
package adminroom
