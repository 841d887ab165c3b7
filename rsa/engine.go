// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsa

import (
	"io"
	"math/big"
)

// Engine composes an optional public key and an optional private key into a
// single encrypt/decrypt endpoint.
//
// An Engine exclusively owns its key material and is not safe for concurrent
// mutation. Services that need isolation should construct their own instance.
type Engine struct {
	public  *PublicKey
	private *PrivateKey
}

// NewEngine creates an engine around the given keys, either may be nil.
func NewEngine(public *PublicKey, private *PrivateKey) *Engine {
	return &Engine{public: public, private: private}
}

// Generate replaces the engine's keys with a freshly generated pair.
func (e *Engine) Generate(random io.Reader, bits int) error {
	key, err := GenerateKey(random, bits)
	if err != nil {
		return err
	}
	e.private = key
	e.public = key.Public()
	return nil
}

// SetPublicKey replaces the public key used for encryption.
func (e *Engine) SetPublicKey(key *PublicKey) {
	e.public = key
}

// SetPrivateKey replaces the private key used for decryption.
func (e *Engine) SetPrivateKey(key *PrivateKey) {
	e.private = key
}

// PublicKey returns the public key in use, falling back to the public half of
// the private key. It returns nil if neither is loaded.
func (e *Engine) PublicKey() *PublicKey {
	if e.public != nil {
		return e.public
	}
	if e.private != nil && e.private.N != nil && e.private.E != nil {
		return &e.private.PublicKey
	}
	return nil
}

// PrivateKey returns the loaded private key, or nil.
func (e *Engine) PrivateKey() *PrivateKey {
	return e.private
}

// Encrypt returns m^e mod n. The plaintext is not range checked.
func (e *Engine) Encrypt(m *big.Int) (*big.Int, error) {
	pub := e.PublicKey()
	if pub == nil || pub.N == nil || pub.E == nil {
		return nil, ErrKeyNotInitialized
	}
	return pub.Encrypt(m), nil
}

// DecryptStandard returns c^d mod n.
func (e *Engine) DecryptStandard(c *big.Int) (*big.Int, error) {
	if e.private == nil || e.private.N == nil || e.private.D == nil {
		return nil, ErrKeyNotInitialized
	}
	return e.private.DecryptStandard(c), nil
}

// DecryptCRT returns c^d mod n computed via the CRT parameters.
func (e *Engine) DecryptCRT(c *big.Int) (*big.Int, error) {
	k := e.private
	if k == nil || k.P == nil || k.Q == nil || k.Dp == nil || k.Dq == nil || k.Qinv == nil {
		return nil, ErrKeyNotInitialized
	}
	return k.DecryptCRT(c), nil
}
