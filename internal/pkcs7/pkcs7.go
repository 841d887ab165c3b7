// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pkcs7 implements PKCS#7 block padding.
//
// https://datatracker.ietf.org/doc/html/rfc5652#section-6.3
package pkcs7

import (
	"bytes"
	"errors"
)

// ErrInvalidPadding is returned when unpadding finds a malformed trailer.
var ErrInvalidPadding = errors.New("pkcs7: invalid padding")

// Pad appends 1..blockSize bytes, each holding the pad length, so the result
// is a non-empty multiple of blockSize. The input is not modified.
func Pad(data []byte, blockSize int) []byte {
	if blockSize <= 0 || blockSize > 255 {
		panic("pkcs7: invalid block size")
	}
	n := blockSize - len(data)%blockSize

	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// Unpad strips and verifies the padding added by Pad. The returned slice
// aliases the input.
func Unpad(data []byte, blockSize int) ([]byte, error) {
	if blockSize <= 0 || blockSize > 255 {
		panic("pkcs7: invalid block size")
	}
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
