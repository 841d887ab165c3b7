// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prime provides Miller-Rabin primality testing and random prime
// generation.
//
// https://en.wikipedia.org/wiki/Miller%E2%80%93Rabin_primality_test
//
// All randomness is drawn from an injectable io.Reader so tests can run with
// a seeded source. A nil reader falls back to crypto/rand.
package prime

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/math"
	"github.com/dark-bio/rsakeys-go/modexp"
)

// DefaultRounds is the number of Miller-Rabin rounds used by Generate. The
// probability of a composite surviving k rounds is at most 4^-k.
const DefaultRounds = 5

// ErrTooSmall is returned when asking for primes shorter than 2 bits.
var ErrTooSmall = errors.New("prime: bit length must be at least 2")

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// MillerRabin reports whether n is probably prime after the given number of
// rounds with independently drawn random witnesses in [2, n-2].
//
// A false result is always correct. A true result is wrong with probability at
// most 4^-rounds. It panics if the random source fails.
func MillerRabin(n *big.Int, rounds int, random io.Reader) bool {
	if n.Cmp(two) < 0 {
		return false
	}
	if n.Cmp(two) == 0 || n.Cmp(three) == 0 {
		return true
	}
	if n.Bit(0) == 0 {
		return false
	}
	random = reader(random)

	// Decompose n-1 = d * 2^s with d odd
	nm1 := new(big.Int).Sub(n, one)
	s := nm1.TrailingZeroBits()
	d := new(big.Int).Rsh(nm1, s)

	// Witnesses are drawn as 2 + [0, n-3)
	span := new(big.Int).Sub(n, three)

	for range rounds {
		a, err := uniform(random, span)
		if err != nil {
			panic("prime: " + err.Error())
		}
		a.Add(a, two)

		x := modexp.Pow(a, d, n)
		if x.Cmp(one) == 0 || x.Cmp(nm1) == 0 {
			continue
		}
		witness := true
		for i := uint(1); i < s; i++ {
			x.Mul(x, x)
			x.Mod(x, n)
			if x.Cmp(nm1) == 0 {
				witness = false
				break
			}
		}
		if witness {
			return false
		}
	}
	return true
}

// Generate returns a random probable prime of exactly the given bit length.
//
// Candidates have their top and bottom bits forced to 1 and are retried until
// one passes DefaultRounds of Miller-Rabin. There is no attempt limit, the
// expected number of candidates is on the order of bits*ln(2)/2.
func Generate(random io.Reader, bits int) (*big.Int, error) {
	if bits < 2 {
		return nil, ErrTooSmall
	}
	random = reader(random)

	buf := make([]byte, (bits+7)/8)
	for {
		if _, err := io.ReadFull(random, buf); err != nil {
			return nil, fmt.Errorf("prime: reading randomness: %w", err)
		}
		candidate := new(big.Int).SetBytes(buf)

		// Clip the candidate to the requested length and pin both ends
		for i := candidate.BitLen() - 1; i >= bits; i-- {
			candidate.SetBit(candidate, i, 0)
		}
		candidate.SetBit(candidate, bits-1, 1)
		candidate.SetBit(candidate, 0, 1)

		if MillerRabin(candidate, DefaultRounds, random) {
			return candidate, nil
		}
	}
}

// GenerateSafe returns a random safe prime p = 2q+1 of the given bit length,
// where q is prime too.
func GenerateSafe(random io.Reader, bits int) (*big.Int, error) {
	if bits < 3 {
		return nil, ErrTooSmall
	}
	random = reader(random)

	for {
		p, err := math.SafePrime(random, bits)
		if err != nil {
			return nil, fmt.Errorf("prime: %w", err)
		}
		// Run it through our own test too, circl only uses ProbablyPrime
		if MillerRabin(p, DefaultRounds, random) {
			return p, nil
		}
	}
}

// IsSafe reports whether p is (probably) a safe prime.
func IsSafe(p *big.Int) bool {
	if p.Cmp(three) < 0 {
		return false
	}
	return math.IsSafePrime(p)
}

// uniform returns a uniformly random value in [0, limit) by rejection
// sampling whole bytes from the random source.
func uniform(random io.Reader, limit *big.Int) (*big.Int, error) {
	bits := limit.BitLen()
	buf := make([]byte, (bits+7)/8)

	// Mask the excess high bits of the leading byte to keep rejections rare
	mask := byte(0xff)
	if extra := uint(len(buf)*8 - bits); extra > 0 {
		mask >>= extra
	}
	out := new(big.Int)
	for {
		if _, err := io.ReadFull(random, buf); err != nil {
			return nil, err
		}
		buf[0] &= mask
		if out.SetBytes(buf).Cmp(limit) < 0 {
			return out, nil
		}
	}
}

// reader returns the given random source, or crypto/rand if nil.
func reader(random io.Reader) io.Reader {
	if random == nil {
		return rand.Reader
	}
	return random
}
