// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pbkdf2 provides PBKDF2-HMAC-SHA1 key derivation.
//
// https://datatracker.ietf.org/doc/html/rfc8018#section-5.2
package pbkdf2

import (
	"crypto/sha1"

	"golang.org/x/crypto/pbkdf2"
)

// Key derives a key from the password, salt, and iteration count using
// PBKDF2 with HMAC-SHA1 as the pseudorandom function, returning a byte slice
// of the requested length, that can be used as a cryptographic key.
//
// For example, you can get a derived key for e.g. AES-256 (which needs a
// 32-byte key) by doing:
//
//	key := pbkdf2.Key([]byte("password"), salt, 200000, 32)
//
// HMAC-SHA1 is kept as the PRF so envelopes written by other tools using the
// common library default still open. The iteration count carries the work
// factor; remember to get a good random salt.
func Key(password, salt []byte, iter, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iter, keyLen, sha1.New)
}
