// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision manages the lifecycle of the containerized
// homeserver that switchboard talks to.
//
// The pipeline is Preflight, Configure, Pull, Start, Verify. Each stage
// is idempotent and can be invoked on its own, so an operator resumes a
// failed pipeline by re-running the stage that failed. State lives in a
// working directory:
//
//	<dir>/compose.yaml     docker compose project for the homeserver
//	<dir>/provision.yaml   server identity, fingerprint, registration token
//	<dir>/data/            homeserver database (bind mount)
//
// The homeserver binds its server name into its database at first
// start. Configure therefore treats a server name change as destructive:
// the container is stopped and the data directory wiped, once, and only
// when the caller confirms. The registration token survives every other
// reconfiguration unchanged, since accounts and invitations created
// with it are already in operators' hands.
//
// Container operations go through [ContainerClient]. [ComposeClient]
// implements it by running the docker CLI.
package provision
