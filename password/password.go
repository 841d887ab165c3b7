// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package password provides bcrypt password hashing and random password
// generation.
//
// https://www.usenix.org/legacy/event/usenix99/provos/provos.pdf
package password

import (
	"errors"
	"fmt"
	"io"

	gopassword "github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch is returned by Verify when the password does not match.
var ErrMismatch = errors.New("password: mismatch")

// alphabet is the character set of generated passwords.
const alphabet = gopassword.LowerLetters + gopassword.UpperLetters + gopassword.Digits

// Hash returns the bcrypt hash of the password at the default cost, with a
// random salt embedded.
func Hash(password string) ([]byte, error) {
	return HashCost(password, bcrypt.DefaultCost)
}

// HashCost is Hash with an explicit cost in [bcrypt.MinCost, bcrypt.MaxCost].
func HashCost(password string, cost int) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

// Verify checks a password against a hash produced by Hash.
func Verify(password string, hash []byte) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}

// Generate returns a uniformly random alphanumeric password of n characters
// read from random, or crypto/rand if nil.
func Generate(random io.Reader, n int) (string, error) {
	// The whole alphabet goes in as letters so every position draws from all
	// 62 characters instead of a fixed digit count.
	gen, err := gopassword.NewGenerator(&gopassword.GeneratorInput{
		LowerLetters: alphabet,
		Reader:       random,
	})
	if err != nil {
		return "", err
	}
	pw, err := gen.Generate(n, 0, 0, true, true)
	if err != nil {
		return "", fmt.Errorf("password: generating: %w", err)
	}
	return pw, nil
}
