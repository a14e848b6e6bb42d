// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Components that poll (the admin command channel, the sync engine's
// backoff, the provisioner's health check) hold a Clock field. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a clock that advances only when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go component.Run(ctx)
//	c.WaitForTimers(1)
//	c.Advance(2 * time.Second)
package clock
