// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/dark-bio/rsakeys-go/internal/base64ext"
	"github.com/dark-bio/rsakeys-go/internal/pkcs7"
	"github.com/dark-bio/rsakeys-go/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 work factor used for new envelopes.
	DefaultIterations = 200000

	// MinIterations is the lowest work factor a Store accepts.
	MinIterations = 100000

	// KeySize is the derived AES-256 key length in bytes.
	KeySize = 32

	// SaltSize is the random PBKDF2 salt length in bytes.
	SaltSize = 16
)

// Envelope is the persisted form of an encrypted private key. All fields hold
// standard padded base64.
type Envelope struct {
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// DeriveKey stretches a password into an AES-256 key.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize)
}

// Seal encrypts the plaintext under a key derived from the password, using a
// fresh salt and IV drawn from random.
func Seal(random io.Reader, plaintext []byte, password string, iterations int) (*Envelope, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	var (
		salt = make([]byte, SaltSize)
		iv   = make([]byte, aes.BlockSize)
	)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, fmt.Errorf("keystore: reading salt: %w", err)
	}
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, fmt.Errorf("keystore: reading iv: %w", err)
	}
	block, err := aes.NewCipher(DeriveKey(password, salt, iterations))
	if err != nil {
		panic(err) // cannot fail, be loud if it does
	}
	ciphertext := pkcs7.Pad(plaintext, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, ciphertext)

	return &Envelope{
		Salt:       base64ext.EncodeToString(salt),
		IV:         base64ext.EncodeToString(iv),
		Ciphertext: base64ext.EncodeToString(ciphertext),
	}, nil
}

// Open decrypts an envelope produced by Seal. Every failure past the password
// check is reported as ErrAuthentication.
func Open(env *Envelope, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	salt, err := base64ext.DecodeStringLen(env.Salt, SaltSize)
	if err != nil {
		return nil, ErrAuthentication
	}
	iv, err := base64ext.DecodeStringLen(env.IV, aes.BlockSize)
	if err != nil {
		return nil, ErrAuthentication
	}
	ciphertext, err := base64ext.DecodeString(env.Ciphertext)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrAuthentication
	}
	block, err := aes.NewCipher(DeriveKey(password, salt, iterations))
	if err != nil {
		panic(err) // cannot fail, be loud if it does
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7.Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
