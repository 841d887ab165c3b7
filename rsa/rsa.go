// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rsa provides textbook RSA over raw integers with both schoolbook and
// CRT-accelerated decryption.
//
// https://datatracker.ietf.org/doc/html/rfc8017#section-5.1
//
// No padding scheme is applied: Encrypt computes m^e mod n for any integer m
// and it is up to the caller to keep 0 <= m < n. The arithmetic is not
// constant time.
package rsa

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/dark-bio/rsakeys-go/crt"
	"github.com/dark-bio/rsakeys-go/modexp"
	"github.com/dark-bio/rsakeys-go/prime"
)

const (
	// DefaultExponent is the public exponent tried first during generation.
	DefaultExponent = 65537

	// DefaultPrimeBits is the default length of each of the two primes.
	DefaultPrimeBits = 512

	// MinPrimeBits is the smallest prime length GenerateKey accepts.
	MinPrimeBits = 512
)

var (
	// ErrKeyNotInitialized is returned when encrypting or decrypting without
	// the required key material loaded.
	ErrKeyNotInitialized = errors.New("rsa: key not initialized")

	// ErrKeyTooSmall is returned when generating keys below MinPrimeBits.
	ErrKeyTooSmall = errors.New("rsa: prime length below minimum")

	// ErrInvalidKey is returned when key material violates an RSA invariant.
	ErrInvalidKey = errors.New("rsa: invalid key")
)

var one = big.NewInt(1)

// PublicKey is the public half of an RSA key pair.
type PublicKey struct {
	N *big.Int // Modulus, p*q
	E *big.Int // Public exponent
}

// PrivateKey is the private half of an RSA key pair, embedding its public
// counterpart.
//
// Keys created by GenerateKey have every field populated. Keys restored from
// storage only carry N, D, P, Q (and optionally E); call Precompute to derive
// the remaining values before use.
type PrivateKey struct {
	PublicKey

	D *big.Int // Private exponent, e^-1 mod phi
	P *big.Int // First prime factor
	Q *big.Int // Second prime factor

	Phi  *big.Int // (p-1)(q-1)
	Dp   *big.Int // d mod (p-1)
	Dq   *big.Int // d mod (q-1)
	Qinv *big.Int // q^-1 mod p
}

// GenerateKey creates a new random key pair with two primes of the given bit
// length each, so the modulus is about 2*bits long. A nil random source uses
// crypto/rand.
func GenerateKey(random io.Reader, bits int) (*PrivateKey, error) {
	if bits < MinPrimeBits {
		return nil, fmt.Errorf("%w: %d bits, want at least %d", ErrKeyTooSmall, bits, MinPrimeBits)
	}
	return generateKey(random, bits)
}

// MustGenerateKey creates a new random key pair using crypto/rand.
// It panics if the generation fails.
func MustGenerateKey(bits int) *PrivateKey {
	key, err := GenerateKey(nil, bits)
	if err != nil {
		panic(err)
	}
	return key
}

// generateKey is GenerateKey without the size floor, so tests can use small
// keys.
func generateKey(random io.Reader, bits int) (*PrivateKey, error) {
	p, err := prime.Generate(random, bits)
	if err != nil {
		return nil, err
	}
	q, err := prime.Generate(random, bits)
	if err != nil {
		return nil, err
	}
	for p.Cmp(q) == 0 {
		if q, err = prime.Generate(random, bits); err != nil {
			return nil, err
		}
	}
	key := &PrivateKey{P: p, Q: q}
	key.N = new(big.Int).Mul(p, q)
	key.Phi = phi(p, q)

	// Walk odd exponents up from 65537 until one is coprime with phi
	key.E = big.NewInt(DefaultExponent)
	for new(big.Int).GCD(nil, nil, key.E, key.Phi).Cmp(one) != 0 {
		key.E.Add(key.E, big.NewInt(2))
	}
	if key.D, err = crt.ModInverse(key.E, key.Phi); err != nil {
		panic("rsa: " + err.Error()) // cannot fail, e is coprime with phi
	}
	if err := key.precomputeCRT(); err != nil {
		return nil, err
	}
	return key, nil
}

// Precompute derives Phi, Dp, Dq and Qinv from P, Q and D, and recovers E if
// it is missing. It is idempotent.
func (k *PrivateKey) Precompute() error {
	if k.P == nil || k.Q == nil || k.D == nil {
		return fmt.Errorf("%w: missing p, q or d", ErrInvalidKey)
	}
	if k.P.Sign() <= 0 || k.Q.Sign() <= 0 || k.P.Cmp(k.Q) == 0 {
		return fmt.Errorf("%w: bad prime factors", ErrInvalidKey)
	}
	if k.N == nil {
		k.N = new(big.Int).Mul(k.P, k.Q)
	}
	k.Phi = phi(k.P, k.Q)

	if k.E == nil {
		e, err := crt.ModInverse(k.D, k.Phi)
		if err != nil {
			return fmt.Errorf("%w: cannot recover public exponent: %w", ErrInvalidKey, err)
		}
		k.E = e
	}
	return k.precomputeCRT()
}

// precomputeCRT fills in the CRT exponents and coefficient.
func (k *PrivateKey) precomputeCRT() error {
	k.Dp = new(big.Int).Mod(k.D, new(big.Int).Sub(k.P, one))
	k.Dq = new(big.Int).Mod(k.D, new(big.Int).Sub(k.Q, one))

	qinv, err := crt.ModInverse(k.Q, k.P)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	k.Qinv = qinv
	return nil
}

// Validate checks the invariants of a fully populated private key: distinct
// probable primes, n = p*q, gcd(e, phi) = 1, 0 < d < phi, e*d = 1 mod phi and
// consistent CRT values.
func (k *PrivateKey) Validate() error {
	if k.N == nil || k.E == nil || k.D == nil || k.P == nil || k.Q == nil ||
		k.Phi == nil || k.Dp == nil || k.Dq == nil || k.Qinv == nil {
		return fmt.Errorf("%w: incomplete key", ErrInvalidKey)
	}
	if k.P.Cmp(k.Q) == 0 {
		return fmt.Errorf("%w: p == q", ErrInvalidKey)
	}
	if !prime.MillerRabin(k.P, prime.DefaultRounds, nil) || !prime.MillerRabin(k.Q, prime.DefaultRounds, nil) {
		return fmt.Errorf("%w: factor is not prime", ErrInvalidKey)
	}
	if new(big.Int).Mul(k.P, k.Q).Cmp(k.N) != 0 {
		return fmt.Errorf("%w: n != p*q", ErrInvalidKey)
	}
	if phi(k.P, k.Q).Cmp(k.Phi) != 0 {
		return fmt.Errorf("%w: phi mismatch", ErrInvalidKey)
	}
	if k.D.Sign() <= 0 || k.D.Cmp(k.Phi) >= 0 {
		return fmt.Errorf("%w: d out of range", ErrInvalidKey)
	}
	ed := new(big.Int).Mul(k.E, k.D)
	if ed.Mod(ed, k.Phi).Cmp(one) != 0 {
		return fmt.Errorf("%w: e*d != 1 mod phi", ErrInvalidKey)
	}
	if new(big.Int).Mod(k.D, new(big.Int).Sub(k.P, one)).Cmp(k.Dp) != 0 ||
		new(big.Int).Mod(k.D, new(big.Int).Sub(k.Q, one)).Cmp(k.Dq) != 0 {
		return fmt.Errorf("%w: CRT exponent mismatch", ErrInvalidKey)
	}
	qq := new(big.Int).Mul(k.Q, k.Qinv)
	if qq.Mod(qq, k.P).Cmp(one) != 0 {
		return fmt.Errorf("%w: CRT coefficient mismatch", ErrInvalidKey)
	}
	return nil
}

// Public returns a copy of the public half of the key.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{N: new(big.Int).Set(k.N), E: new(big.Int).Set(k.E)}
}

// Encrypt computes m^e mod n.
func (k *PublicKey) Encrypt(m *big.Int) *big.Int {
	return modexp.Pow(m, k.E, k.N)
}

// DecryptStandard computes c^d mod n.
func (k *PrivateKey) DecryptStandard(c *big.Int) *big.Int {
	return modexp.Pow(c, k.D, k.N)
}

// DecryptCRT computes c^d mod n via two half-size exponentiations:
//
//	m1 = c^dp mod p
//	m2 = c^dq mod q
//	h  = qinv * (m1 - m2) mod p
//	m  = m2 + h*q
//
// It yields exactly the same result as DecryptStandard.
func (k *PrivateKey) DecryptCRT(c *big.Int) *big.Int {
	m1 := modexp.Pow(c, k.Dp, k.P)
	m2 := modexp.Pow(c, k.Dq, k.Q)

	// m1 - m2 may be negative, Mod normalises into [0, p)
	h := new(big.Int).Sub(m1, m2)
	h.Mul(h, k.Qinv)
	h.Mod(h, k.P)

	return h.Mul(h, k.Q).Add(h, m2)
}

// phi returns (p-1)(q-1).
func phi(p, q *big.Int) *big.Int {
	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)
	return pm1.Mul(pm1, qm1)
}
