// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small secrets at rest with filippo.io/age.
//
// The provisioner uses it to keep the homeserver registration token out
// of provision.yaml in plaintext: when an age recipient is configured,
// the token is stored as base64 ciphertext and decrypted with the
// operator's identity file on the next Configure. Decrypted plaintext
// and private keys live in [secret.Buffer] values.
package sealed
