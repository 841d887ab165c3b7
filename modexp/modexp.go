// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package modexp provides binary modular exponentiation over math/big.
//
// The implementation is the textbook right-to-left square-and-multiply. It is
// not constant time and must not be used where timing side channels matter.
package modexp

import "math/big"

var one = big.NewInt(1)

// Pow returns base^exponent mod modulus.
//
// A modulus of 1 yields 0 and an exponent of 0 yields 1 (also for a base of
// 0). Negative bases are reduced into [0, modulus) first. Pow panics if the
// modulus is not positive or the exponent is negative.
func Pow(base, exponent, modulus *big.Int) *big.Int {
	if modulus.Sign() <= 0 {
		panic("modexp: modulus must be positive")
	}
	if exponent.Sign() < 0 {
		panic("modexp: negative exponent")
	}
	if modulus.Cmp(one) == 0 {
		return new(big.Int)
	}
	if exponent.Sign() == 0 {
		return big.NewInt(1)
	}
	var (
		result = big.NewInt(1)
		b      = new(big.Int).Mod(base, modulus) // Euclidean, never negative
	)
	for i, bits := 0, exponent.BitLen(); i < bits; i++ {
		if exponent.Bit(i) == 1 {
			result.Mul(result, b)
			result.Mod(result, modulus)
		}
		// Skip the final squaring, it would be discarded anyway
		if i+1 < bits {
			b.Mul(b, b)
			b.Mod(b, modulus)
		}
	}
	return result
}

// PowInt is a convenience wrapper around Pow for machine sized integers.
func PowInt(base, exponent, modulus int64) int64 {
	return Pow(big.NewInt(base), big.NewInt(exponent), big.NewInt(modulus)).Int64()
}
