// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bigint implements unbounded non-negative decimal integers stored as
// digit arrays.
//
// The representation is deliberately naive: every value is a slice of base-10
// digits, least significant first, and the arithmetic is the pen-and-paper
// kind (carry-propagating addition and convolution-style multiplication). It
// exists as a reference implementation that does not depend on any machine
// word size; the rest of the module uses math/big for performance.
package bigint

import (
	"errors"
	"math/big"
	"strings"
)

var (
	// ErrEmpty is returned when parsing an empty string.
	ErrEmpty = errors.New("bigint: empty number")

	// ErrInvalidDigit is returned when parsing a string with a non-digit.
	ErrInvalidDigit = errors.New("bigint: invalid decimal digit")

	// ErrNegative is returned when converting a negative math/big value.
	ErrNegative = errors.New("bigint: negative value")
)

// Int is an immutable non-negative integer of arbitrary length.
//
// The zero value is not usable, construct values via Parse, MustParse or
// FromBig. Except for the literal zero, the most significant digit is never 0.
type Int struct {
	digits []uint8 // least significant digit first, each in [0, 9]
}

// Parse converts a decimal string into an Int. Leading zeros are accepted and
// stripped, signs and whitespace are not.
func Parse(s string) (*Int, error) {
	if len(s) == 0 {
		return nil, ErrEmpty
	}
	digits := make([]uint8, len(s))
	for i := 0; i < len(s); i++ {
		c := s[len(s)-1-i]
		if c < '0' || c > '9' {
			return nil, ErrInvalidDigit
		}
		digits[i] = c - '0'
	}
	return &Int{digits: trim(digits)}, nil
}

// MustParse converts a decimal string into an Int.
// It panics if the parsing fails.
func MustParse(s string) *Int {
	x, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return x
}

// FromBig converts a non-negative math/big integer into an Int.
func FromBig(x *big.Int) (*Int, error) {
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	return Parse(x.String())
}

// Big converts the value into a math/big integer.
func (x *Int) Big() *big.Int {
	out, ok := new(big.Int).SetString(x.String(), 10)
	if !ok {
		panic("bigint: corrupt digit array") // cannot fail, be loud if it does
	}
	return out
}

// String returns the decimal representation of the value.
func (x *Int) String() string {
	var b strings.Builder
	b.Grow(len(x.digits))
	for i := len(x.digits) - 1; i >= 0; i-- {
		b.WriteByte('0' + x.digits[i])
	}
	return b.String()
}

// Len returns the number of decimal digits in the value. Zero has one digit.
func (x *Int) Len() int {
	return len(x.digits)
}

// IsZero reports whether the value is zero.
func (x *Int) IsZero() bool {
	return len(x.digits) == 1 && x.digits[0] == 0
}

// Cmp compares x and y and returns -1, 0 or +1.
func (x *Int) Cmp(y *Int) int {
	if len(x.digits) != len(y.digits) {
		if len(x.digits) < len(y.digits) {
			return -1
		}
		return 1
	}
	for i := len(x.digits) - 1; i >= 0; i-- {
		switch {
		case x.digits[i] < y.digits[i]:
			return -1
		case x.digits[i] > y.digits[i]:
			return 1
		}
	}
	return 0
}

// Add returns x + y as a new value.
func (x *Int) Add(y *Int) *Int {
	n := max(len(x.digits), len(y.digits))
	out := make([]uint8, 0, n+1)

	var carry uint8
	for i := range n {
		sum := carry
		if i < len(x.digits) {
			sum += x.digits[i]
		}
		if i < len(y.digits) {
			sum += y.digits[i]
		}
		out = append(out, sum%10)
		carry = sum / 10
	}
	if carry != 0 {
		out = append(out, carry)
	}
	return &Int{digits: out}
}

// Multiply returns x * y as a new value.
//
// All digit products are accumulated into their positional slot first and
// carries are only resolved in a single pass afterwards.
func (x *Int) Multiply(y *Int) *Int {
	// A single slot accumulates at most min(len) products of 81 each, which
	// fits a uint64 for any input that fits in memory.
	acc := make([]uint64, len(x.digits)+len(y.digits))
	for i, a := range x.digits {
		for j, b := range y.digits {
			acc[i+j] += uint64(a) * uint64(b)
		}
	}
	out := make([]uint8, len(acc))

	var carry uint64
	for i := range acc {
		total := acc[i] + carry
		out[i] = uint8(total % 10)
		carry = total / 10
	}
	// The product of an m and an n digit number has at most m+n digits, so
	// nothing can be left in the carry here.
	return &Int{digits: trim(out)}
}

// trim drops most significant zero digits, keeping at least one digit.
func trim(digits []uint8) []uint8 {
	end := len(digits)
	for end > 1 && digits[end-1] == 0 {
		end--
	}
	return digits[:end]
}
