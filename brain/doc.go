// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package brain is the control-plane facade used by the HTTP API, the
// control socket, and the CLI behind it.
//
// A Brain owns no goroutines. It composes the command channel (account
// administration), the classifier (the typed view of accounts and
// rooms), the sync engine's invitation state, the event hub, the
// router's room map, and the provisioner, and exposes each operation
// as one context-aware method.
package brain
