// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads switchboard's YAML configuration.
//
// Configuration comes from exactly one file, named either by the
// SWITCHBOARD_CONFIG environment variable ([Load]) or by a --config
// flag ([LoadFile]). There is no discovery and no fallback search path.
//
// The file may carry development and production sections that override
// base values when [Config].Environment matches. After overrides,
// ${HOME}, ${SWITCHBOARD_ROOT}, and ${VAR:-default} are expanded in path
// fields, then [Config.Validate] checks the result with
// go-playground/validator struct tags.
package config
