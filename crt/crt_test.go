// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crt

import (
	"errors"
	"math/big"
	"math/rand/v2"
	"testing"
)

func ints(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

// Tests that the Bezout identity holds and the base case is as documented.
func TestExtendedGCD(t *testing.T) {
	tests := []struct {
		a, b int64
		gcd  int64
	}{
		{0, 5, 5},
		{0, 0, 0},
		{5, 0, 5},
		{3, 7, 1},
		{240, 46, 2},
		{46, 240, 2},
		{65537, 3120, 1},
		{1071, 462, 21},
	}
	for _, tt := range tests {
		a, b := big.NewInt(tt.a), big.NewInt(tt.b)
		g, x, y := ExtendedGCD(a, b)
		if g.Int64() != tt.gcd {
			t.Errorf("ExtendedGCD(%d, %d) gcd = %v, want %d", tt.a, tt.b, g, tt.gcd)
		}
		lhs := new(big.Int).Add(new(big.Int).Mul(a, x), new(big.Int).Mul(b, y))
		if lhs.Cmp(g) != 0 {
			t.Errorf("ExtendedGCD(%d, %d): %d*%v + %d*%v = %v, want %v", tt.a, tt.b, tt.a, x, tt.b, y, lhs, g)
		}
	}
	g, x, y := ExtendedGCD(big.NewInt(0), big.NewInt(9))
	if g.Int64() != 9 || x.Sign() != 0 || y.Int64() != 1 {
		t.Errorf("ExtendedGCD(0, 9) = (%v, %v, %v), want (9, 0, 1)", g, x, y)
	}
}

func TestModInverse(t *testing.T) {
	tests := []struct {
		a, m int64
		want int64
	}{
		{3, 11, 4},
		{10, 17, 12},
		{1, 5, 1},
		{-3, 11, 7},
		{14, 11, 4}, // 14 = 3 mod 11
		{7, 1, 0},
	}
	for _, tt := range tests {
		got, err := ModInverse(big.NewInt(tt.a), big.NewInt(tt.m))
		if err != nil {
			t.Errorf("ModInverse(%d, %d) error = %v", tt.a, tt.m, err)
			continue
		}
		if got.Int64() != tt.want {
			t.Errorf("ModInverse(%d, %d) = %v, want %d", tt.a, tt.m, got, tt.want)
		}
	}
	if _, err := ModInverse(big.NewInt(6), big.NewInt(9)); !errors.Is(err, ErrNoInverse) {
		t.Errorf("ModInverse(6, 9) error = %v, want %v", err, ErrNoInverse)
	}
	if _, err := ModInverse(big.NewInt(0), big.NewInt(9)); !errors.Is(err, ErrNoInverse) {
		t.Errorf("ModInverse(0, 9) error = %v, want %v", err, ErrNoInverse)
	}
	if _, err := ModInverse(big.NewInt(3), big.NewInt(0)); !errors.Is(err, ErrInvalidModulus) {
		t.Errorf("ModInverse(3, 0) error = %v, want %v", err, ErrInvalidModulus)
	}
}

// Tests random inverses against math/big.
func TestModInverseAgainstBig(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	m, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10) // 2^127-1
	for range 100 {
		a := new(big.Int).SetUint64(rng.Uint64() | 1)
		a.Lsh(a, uint(rng.IntN(60)))

		got, err := ModInverse(a, m)
		if err != nil {
			t.Fatalf("ModInverse(%v) error = %v", a, err)
		}
		if want := new(big.Int).ModInverse(a, m); got.Cmp(want) != 0 {
			t.Fatalf("ModInverse(%v) = %v, want %v", a, got, want)
		}
	}
}

func TestSolve(t *testing.T) {
	x, err := Solve(ints(2, 3, 2), ints(3, 5, 7))
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if x.Int64() != 23 {
		t.Errorf("Solve() = %v, want 23", x)
	}
	// Single congruence reduces the remainder
	x, err = Solve(ints(17), ints(5))
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if x.Int64() != 2 {
		t.Errorf("Solve() = %v, want 2", x)
	}
}

// Tests that solutions satisfy every congruence for random coprime systems.
func TestSolveRandom(t *testing.T) {
	moduli := ints(101, 103, 107, 109, 113, 127, 131)
	rng := rand.New(rand.NewPCG(9, 10))
	for range 50 {
		remainders := make([]*big.Int, len(moduli))
		for i, m := range moduli {
			remainders[i] = big.NewInt(rng.Int64N(m.Int64()))
		}
		x, err := Solve(remainders, moduli)
		if err != nil {
			t.Fatalf("Solve() error = %v", err)
		}
		for i, m := range moduli {
			if r := new(big.Int).Mod(x, m); r.Cmp(remainders[i]) != 0 {
				t.Fatalf("Solve() = %v: mod %v = %v, want %v", x, m, r, remainders[i])
			}
		}
	}
}

func TestSolveErrors(t *testing.T) {
	_, err := Solve(ints(1, 2), ints(4, 6))
	if !errors.Is(err, ErrNotCoprime) {
		t.Fatalf("Solve([4 6]) error = %v, want %v", err, ErrNotCoprime)
	}
	var nc *NotCoprimeError
	if !errors.As(err, &nc) {
		t.Fatalf("Solve([4 6]) error type = %T, want *NotCoprimeError", err)
	}
	if nc.A.Int64() != 4 || nc.B.Int64() != 6 || nc.GCD.Int64() != 2 || nc.I != 0 || nc.J != 1 {
		t.Errorf("NotCoprimeError = %+v, want pair (4, 6) with factor 2", nc)
	}
	// The offending pair is not necessarily adjacent
	if _, err := Solve(ints(1, 2, 3), ints(9, 5, 12)); !errors.As(err, &nc) || nc.I != 0 || nc.J != 2 {
		t.Errorf("Solve([9 5 12]) error = %v, want pair #0/#2", err)
	}
	if _, err := Solve(ints(1), ints(3, 5)); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Solve() error = %v, want %v", err, ErrLengthMismatch)
	}
	if _, err := Solve(nil, nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Solve() error = %v, want %v", err, ErrEmpty)
	}
	if _, err := Solve(ints(1, 1), ints(3, 0)); !errors.Is(err, ErrInvalidModulus) {
		t.Errorf("Solve() error = %v, want %v", err, ErrInvalidModulus)
	}
}
