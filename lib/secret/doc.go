// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for the credentials
// switchboard holds for its whole lifetime: the brain account's access
// token and the homeserver registration token.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock, and marks it excluded from core
// dumps via madvise(MADV_DONTDUMP). On Close the memory is zeroed,
// unlocked, and unmapped. After Close any access panics; Close is
// idempotent.
//
// Depends on golang.org/x/sys/unix only.
package secret
