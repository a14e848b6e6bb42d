// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree framework for the switchboard CLI:
// nested subcommands dispatched by name, per-command pflag sets, help
// output, typo suggestions, and --json output helpers.
package cli
