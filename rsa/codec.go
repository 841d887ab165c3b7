// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsa

import (
	stdrsa "crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/dark-bio/rsakeys-go/internal/pemext"
	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidEncoding is returned when a serialized key cannot be decoded.
var ErrInvalidEncoding = errors.New("rsa: invalid key encoding")

// publicKeyJSON is the on-disk public key format: {"n": ..., "e": ...}.
//
// Integers are emitted as JSON numbers. When reading, both numbers and
// decimal strings are accepted.
type publicKeyJSON struct {
	N json.Number `json:"n"`
	E json.Number `json:"e"`
}

// privateKeyJSON is the plaintext inside an encrypted envelope. The public
// exponent is optional, older payloads only carry n, d, p and q.
type privateKeyJSON struct {
	N json.Number `json:"n"`
	E json.Number `json:"e,omitempty"`
	D json.Number `json:"d"`
	P json.Number `json:"p"`
	Q json.Number `json:"q"`
}

// MarshalJSON implements json.Marshaler.
func (k *PublicKey) MarshalJSON() ([]byte, error) {
	if k.N == nil || k.E == nil {
		return nil, ErrKeyNotInitialized
	}
	return json.Marshal(publicKeyJSON{N: number(k.N), E: number(k.E)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var raw publicKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	n, err := parseNumber("n", raw.N)
	if err != nil {
		return err
	}
	e, err := parseNumber("e", raw.E)
	if err != nil {
		return err
	}
	k.N, k.E = n, e
	return nil
}

// MarshalJSON implements json.Marshaler. Only n, e, d, p and q are written,
// everything else is derivable via Precompute.
func (k *PrivateKey) MarshalJSON() ([]byte, error) {
	if k.N == nil || k.D == nil || k.P == nil || k.Q == nil {
		return nil, ErrKeyNotInitialized
	}
	raw := privateKeyJSON{N: number(k.N), D: number(k.D), P: number(k.P), Q: number(k.Q)}
	if k.E != nil {
		raw.E = number(k.E)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON implements json.Unmarshaler. The derived CRT values are left
// empty, call Precompute afterwards.
func (k *PrivateKey) UnmarshalJSON(data []byte) error {
	var raw privateKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	var (
		out PrivateKey
		err error
	)
	if out.N, err = parseNumber("n", raw.N); err != nil {
		return err
	}
	if out.D, err = parseNumber("d", raw.D); err != nil {
		return err
	}
	if out.P, err = parseNumber("p", raw.P); err != nil {
		return err
	}
	if out.Q, err = parseNumber("q", raw.Q); err != nil {
		return err
	}
	if raw.E != "" {
		if out.E, err = parseNumber("e", raw.E); err != nil {
			return err
		}
	}
	*k = out
	return nil
}

func number(x *big.Int) json.Number {
	return json.Number(x.String())
}

func parseNumber(field string, num json.Number) (*big.Int, error) {
	if num == "" {
		return nil, fmt.Errorf("%w: missing %q", ErrInvalidEncoding, field)
	}
	x, ok := new(big.Int).SetString(string(num), 10)
	if !ok || x.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidEncoding, field)
	}
	return x, nil
}

// std converts the key into the standard library representation, which is
// only used for interoperable DER encoding.
func (k *PublicKey) std() (*stdrsa.PublicKey, error) {
	if k.N == nil || k.E == nil {
		return nil, ErrKeyNotInitialized
	}
	if !k.E.IsInt64() || k.E.Int64() > int64(^uint32(0)>>1) {
		return nil, fmt.Errorf("%w: exponent too large", ErrInvalidKey)
	}
	return &stdrsa.PublicKey{N: k.N, E: int(k.E.Int64())}, nil
}

// MarshalDER serializes the public key to PKIX DER format.
func (k *PublicKey) MarshalDER() ([]byte, error) {
	key, err := k.std()
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKIXPublicKey(key)
}

// MarshalPEM serializes the public key to PEM format.
func (k *PublicKey) MarshalPEM() (string, error) {
	der, err := k.MarshalDER()
	if err != nil {
		return "", err
	}
	return string(pemext.Encode("PUBLIC KEY", der)), nil
}

// ParsePublicKeyDER parses a PKIX DER-encoded public key.
func ParsePublicKeyDER(der []byte) (*PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	rsaKey, ok := key.(*stdrsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidEncoding)
	}
	// The modulus must be odd (product of two odd primes)
	if rsaKey.N.Bit(0) == 0 {
		return nil, fmt.Errorf("%w: modulus must be odd", ErrInvalidKey)
	}
	return &PublicKey{N: rsaKey.N, E: big.NewInt(int64(rsaKey.E))}, nil
}

// ParsePublicKeyPEM parses a PEM-encoded public key.
func ParsePublicKeyPEM(s string) (*PublicKey, error) {
	der, err := pemext.DecodeKind([]byte(s), "PUBLIC KEY")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	return ParsePublicKeyDER(der)
}

// MustParsePublicKeyPEM parses a PEM-encoded public key.
// It panics if the parsing fails.
func MustParsePublicKeyPEM(s string) *PublicKey {
	key, err := ParsePublicKeyPEM(s)
	if err != nil {
		panic(err)
	}
	return key
}

// publicKeyCBOR is the binary public key format, a two entry map with integer
// keys. Values too large for a CBOR integer are written as tag 2 bignums.
type publicKeyCBOR struct {
	N *big.Int `cbor:"1,keyasint"`
	E *big.Int `cbor:"2,keyasint"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err) // cannot fail, be loud if it does
	}
	opts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	if cborDec, err = opts.DecMode(); err != nil {
		panic(err) // cannot fail, be loud if it does
	}
}

// EncodeCBOR serializes the public key into deterministic CBOR.
func (k *PublicKey) EncodeCBOR() ([]byte, error) {
	if k.N == nil || k.E == nil {
		return nil, ErrKeyNotInitialized
	}
	return cborEnc.Marshal(publicKeyCBOR{N: k.N, E: k.E})
}

// DecodePublicKeyCBOR parses a public key produced by EncodeCBOR.
func DecodePublicKeyCBOR(data []byte) (*PublicKey, error) {
	var raw publicKeyCBOR
	if err := cborDec.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	if raw.N == nil || raw.E == nil || raw.N.Sign() <= 0 || raw.E.Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing or non-positive field", ErrInvalidEncoding)
	}
	return &PublicKey{N: raw.N, E: raw.E}, nil
}

// Fingerprint returns a 256-bit unique identifier for this key: the SHA256
// hash of the little endian modulus followed by the little endian exponent
// padded to 8 bytes.
func (k *PublicKey) Fingerprint() [32]byte {
	modLE := reverseBytes(k.N.Bytes())
	expLE := reverseBytes(k.E.Bytes())
	for len(expLE) < 8 {
		expLE = append(expLE, 0)
	}
	return sha256.Sum256(append(modLE, expLE...))
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
