// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bigint

import (
	"errors"
	"math/big"
	"math/rand/v2"
	"strings"
	"testing"
)

// Tests that parsing normalises leading zeros and rejects garbage.
func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  string
		err   error
	}{
		{input: "0", want: "0"},
		{input: "000", want: "0"},
		{input: "007", want: "7"},
		{input: "1234567890", want: "1234567890"},
		{input: "", err: ErrEmpty},
		{input: "-1", err: ErrInvalidDigit},
		{input: "12a4", err: ErrInvalidDigit},
		{input: " 1", err: ErrInvalidDigit},
	}
	for _, tt := range tests {
		x, err := Parse(tt.input)
		if !errors.Is(err, tt.err) {
			t.Errorf("Parse(%q) error = %v, want %v", tt.input, err, tt.err)
			continue
		}
		if err != nil {
			continue
		}
		if got := x.String(); got != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

// Tests addition and multiplication against math/big on hand picked edge
// cases: zeros, single digits, long carry chains and lopsided lengths.
func TestArithmetic(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"0", "0"},
		{"0", "123"},
		{"9", "9"},
		{"5", "7"},
		{"999", "1"},
		{"99999999999999999999", "1"},
		{"99", "99"},
		{"1", "100000000000000000000000000000000000000"},
		{"123456789", "987654321"},
		{"12345678901234567890123456789012345678901234567890", "3"},
		{strings.Repeat("9", 300), strings.Repeat("9", 300)},
		{strings.Repeat("7", 250), "12"},
	}
	for _, tt := range tests {
		a, b := MustParse(tt.a), MustParse(tt.b)
		ab, _ := new(big.Int).SetString(tt.a, 10)
		bb, _ := new(big.Int).SetString(tt.b, 10)

		if got, want := a.Add(b).String(), new(big.Int).Add(ab, bb).String(); got != want {
			t.Errorf("%s + %s = %s, want %s", tt.a, tt.b, got, want)
		}
		if got, want := a.Multiply(b).String(), new(big.Int).Mul(ab, bb).String(); got != want {
			t.Errorf("%s * %s = %s, want %s", tt.a, tt.b, got, want)
		}
		// Operands must be left untouched
		if a.String() != MustParse(tt.a).String() || b.String() != MustParse(tt.b).String() {
			t.Errorf("operands mutated: %s, %s", a, b)
		}
	}
}

// Tests the identity and absorbing elements of the two operations.
func TestIdentities(t *testing.T) {
	zero, one := MustParse("0"), MustParse("1")

	rng := rand.New(rand.NewPCG(1, 2))
	for range 100 {
		x := randomInt(rng, 1+rng.IntN(200))

		if got := x.Add(zero); got.Cmp(x) != 0 {
			t.Errorf("%s + 0 = %s", x, got)
		}
		if got := zero.Add(x); got.Cmp(x) != 0 {
			t.Errorf("0 + %s = %s", x, got)
		}
		if got := x.Multiply(zero); !got.IsZero() || got.Len() != 1 {
			t.Errorf("%s * 0 = %s", x, got)
		}
		if got := x.Multiply(one); got.Cmp(x) != 0 {
			t.Errorf("%s * 1 = %s", x, got)
		}
	}
}

// Tests random operands of random, unequal lengths against math/big.
func TestRandomAgainstBig(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		a := randomInt(rng, 1+rng.IntN(400))
		b := randomInt(rng, 1+rng.IntN(40))

		sum := new(big.Int).Add(a.Big(), b.Big())
		if got := a.Add(b).Big(); got.Cmp(sum) != 0 {
			t.Fatalf("%s + %s = %s, want %s", a, b, got, sum)
		}
		prod := new(big.Int).Mul(a.Big(), b.Big())
		if got := a.Multiply(b).Big(); got.Cmp(prod) != 0 {
			t.Fatalf("%s * %s = %s, want %s", a, b, got, prod)
		}
	}
}

// Tests conversion from math/big values.
func TestFromBig(t *testing.T) {
	x, err := FromBig(big.NewInt(1234))
	if err != nil {
		t.Fatalf("FromBig() error = %v", err)
	}
	if x.String() != "1234" {
		t.Errorf("FromBig() = %s, want 1234", x)
	}
	if _, err := FromBig(big.NewInt(-1)); !errors.Is(err, ErrNegative) {
		t.Errorf("FromBig(-1) error = %v, want %v", err, ErrNegative)
	}
}

func TestCmp(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0", "0", 0},
		{"1", "0", 1},
		{"9", "10", -1},
		{"123", "124", -1},
		{"500", "499", 1},
	}
	for _, tt := range tests {
		if got := MustParse(tt.a).Cmp(MustParse(tt.b)); got != tt.want {
			t.Errorf("Cmp(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// randomInt creates a random value with exactly n digits (no leading zero).
func randomInt(rng *rand.Rand, n int) *Int {
	var b strings.Builder
	b.WriteByte(byte('1' + rng.IntN(9)))
	for i := 1; i < n; i++ {
		b.WriteByte(byte('0' + rng.IntN(10)))
	}
	return MustParse(b.String())
}
