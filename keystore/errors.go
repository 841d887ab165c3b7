// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keystore

import "errors"

var (
	// ErrAuthentication is returned when an envelope cannot be opened. A wrong
	// password and a corrupted envelope are deliberately indistinguishable.
	ErrAuthentication = errors.New("keystore: authentication failed")

	// ErrEmptyPassword is returned when sealing or rotating without a password.
	ErrEmptyPassword = errors.New("keystore: empty password")

	// ErrWeakIterations is returned when the configured PBKDF2 iteration count
	// is below MinIterations.
	ErrWeakIterations = errors.New("keystore: iteration count too low")

	// ErrNoEnvelope is returned by Backup when there is nothing to back up.
	ErrNoEnvelope = errors.New("keystore: no envelope to back up")
)
