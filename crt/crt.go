// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crt provides the extended Euclidean algorithm, modular inverses and
// a Chinese Remainder Theorem solver over pairwise coprime moduli.
//
// https://en.wikipedia.org/wiki/Chinese_remainder_theorem
package crt

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrNoInverse is returned when the requested inverse does not exist,
	// i.e. the value and the modulus share a factor.
	ErrNoInverse = errors.New("crt: no modular inverse")

	// ErrNotCoprime is returned when two moduli of a system share a factor.
	// The concrete error is a *NotCoprimeError naming the pair.
	ErrNotCoprime = errors.New("crt: moduli not pairwise coprime")

	// ErrLengthMismatch is returned when remainders and moduli differ in count.
	ErrLengthMismatch = errors.New("crt: remainder and modulus count mismatch")

	// ErrEmpty is returned when solving an empty system.
	ErrEmpty = errors.New("crt: empty system")

	// ErrInvalidModulus is returned for moduli smaller than 1.
	ErrInvalidModulus = errors.New("crt: modulus must be positive")
)

// NotCoprimeError reports the first pair of moduli found to share a factor.
type NotCoprimeError struct {
	I, J int      // Indices of the offending moduli
	A, B *big.Int // The offending moduli
	GCD  *big.Int // Their common factor
}

func (e *NotCoprimeError) Error() string {
	return fmt.Sprintf("crt: moduli %v (#%d) and %v (#%d) share factor %v", e.A, e.I, e.B, e.J, e.GCD)
}

// Unwrap makes errors.Is(err, ErrNotCoprime) hold.
func (e *NotCoprimeError) Unwrap() error {
	return ErrNotCoprime
}

// ExtendedGCD returns (g, x, y) such that a*x + b*y = g = gcd(a, b).
//
// For a == 0 the result is (b, 0, 1).
func ExtendedGCD(a, b *big.Int) (gcd, x, y *big.Int) {
	// Iterative form of the recursion (b mod a, a), tracking Bezout
	// coefficients for both running values.
	var (
		oldR, r  = new(big.Int).Set(b), new(big.Int).Set(a)
		oldX, cx = big.NewInt(0), big.NewInt(1) // coefficients of a
		oldY, cy = big.NewInt(1), big.NewInt(0) // coefficients of b
		q, tmp   = new(big.Int), new(big.Int)
	)
	for r.Sign() != 0 {
		q.Div(oldR, r)

		tmp.Mul(q, r)
		oldR, r = r, new(big.Int).Sub(oldR, tmp)

		tmp.Mul(q, cx)
		oldX, cx = cx, new(big.Int).Sub(oldX, tmp)

		tmp.Mul(q, cy)
		oldY, cy = cy, new(big.Int).Sub(oldY, tmp)
	}
	return oldR, oldX, oldY
}

// ModInverse returns x in [0, m) with a*x = 1 (mod m).
func ModInverse(a, m *big.Int) (*big.Int, error) {
	if m.Sign() <= 0 {
		return nil, ErrInvalidModulus
	}
	// Reduce first so negative inputs behave like their residues
	ar := new(big.Int).Mod(a, m)

	g, x, _ := ExtendedGCD(ar, m)
	if g.Cmp(big.NewInt(1)) != 0 {
		return nil, fmt.Errorf("%w: gcd(%v, %v) = %v", ErrNoInverse, a, m, g)
	}
	return x.Mod(x, m), nil
}

// Solve returns the unique x in [0, M) with x = remainders[i] (mod moduli[i])
// for all i, where M is the product of the moduli.
func Solve(remainders, moduli []*big.Int) (*big.Int, error) {
	if len(remainders) != len(moduli) {
		return nil, fmt.Errorf("%w: %d remainders, %d moduli", ErrLengthMismatch, len(remainders), len(moduli))
	}
	if len(moduli) == 0 {
		return nil, ErrEmpty
	}
	for i, m := range moduli {
		if m.Sign() <= 0 {
			return nil, fmt.Errorf("%w: modulus #%d is %v", ErrInvalidModulus, i, m)
		}
	}
	// Reject the whole system up front if any two moduli share a factor
	g := new(big.Int)
	for i := 0; i < len(moduli); i++ {
		for j := i + 1; j < len(moduli); j++ {
			if g.GCD(nil, nil, moduli[i], moduli[j]).Cmp(big.NewInt(1)) != 0 {
				return nil, &NotCoprimeError{
					I: i, J: j,
					A: new(big.Int).Set(moduli[i]), B: new(big.Int).Set(moduli[j]),
					GCD: new(big.Int).Set(g),
				}
			}
		}
	}
	M := big.NewInt(1)
	for _, m := range moduli {
		M.Mul(M, m)
	}
	x := new(big.Int)
	for i, m := range moduli {
		Mi := new(big.Int).Div(M, m)

		yi, err := ModInverse(Mi, m)
		if err != nil {
			panic("crt: " + err.Error()) // cannot fail for coprime moduli
		}
		term := new(big.Int).Mul(remainders[i], Mi)
		term.Mul(term, yi)

		x.Add(x, term)
		x.Mod(x, M)
	}
	return x, nil
}
