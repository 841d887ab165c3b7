// Package base64ext provides strict base64 coding that rejects whitespace.
package base64ext

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidCharacter is returned when the input contains \r or \n.
var ErrInvalidCharacter = errors.New("base64ext: invalid character")

// EncodeToString encodes a blob with the standard padded alphabet.
func EncodeToString(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeString decodes a base64 string using strict decoding and rejects
// any input containing \r or \n characters.
func DecodeString(s string) ([]byte, error) {
	if strings.ContainsAny(s, "\r\n") {
		return nil, ErrInvalidCharacter
	}
	return base64.StdEncoding.Strict().DecodeString(s)
}

// DecodeStringLen is DecodeString that additionally requires the decoded
// blob to be exactly n bytes long.
func DecodeStringLen(s string, n int) ([]byte, error) {
	b, err := DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, errors.New("base64ext: unexpected decoded length")
	}
	return b, nil
}
