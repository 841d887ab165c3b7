// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pemext provides strict single-block PEM encoding and decoding for
// exported key material.
package pemext

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for any structural PEM violation.
	ErrMalformed = errors.New("pemext: malformed PEM block")

	// ErrUnexpectedType is returned when the block type is not the wanted one.
	ErrUnexpectedType = errors.New("pemext: unexpected PEM block type")
)

const lineLength = 64

var (
	beginMarker = []byte("-----BEGIN ")
	endMarker   = []byte("-----END ")
	dashes      = []byte("-----")
)

// Encode wraps the blob into a PEM block of the given type with 64 character
// lines and \n line endings.
func Encode(kind string, blob []byte) []byte {
	body := base64.StdEncoding.EncodeToString(blob)

	var buf bytes.Buffer
	writeMarker(&buf, beginMarker, kind)
	for len(body) > lineLength {
		buf.WriteString(body[:lineLength])
		buf.WriteByte('\n')
		body = body[lineLength:]
	}
	if len(body) > 0 {
		buf.WriteString(body)
		buf.WriteByte('\n')
	}
	writeMarker(&buf, endMarker, kind)
	return buf.Bytes()
}

// Decode parses exactly one PEM block. The header must start at the first
// byte, line endings must be consistently \n or \r\n, headers are not
// supported and nothing but an optional final line ending may follow the
// footer.
func Decode(data []byte) (kind string, blob []byte, err error) {
	eol := []byte("\n")
	if i := bytes.IndexByte(data, '\n'); i > 0 && data[i-1] == '\r' {
		eol = []byte("\r\n")
	}
	lines := bytes.Split(data, eol)

	// A trailing line ending leaves one empty element behind
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	if len(lines) < 3 {
		return "", nil, fmt.Errorf("%w: too few lines", ErrMalformed)
	}
	kind, ok := parseMarker(lines[0], beginMarker)
	if !ok {
		return "", nil, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	if footer, ok := parseMarker(lines[len(lines)-1], endMarker); !ok || footer != kind {
		return "", nil, fmt.Errorf("%w: bad footer", ErrMalformed)
	}
	body := lines[1 : len(lines)-1]
	for i, line := range body {
		// Every line but the last must be full length
		if len(line) == 0 || len(line) > lineLength || (i < len(body)-1 && len(line) != lineLength) {
			return "", nil, fmt.Errorf("%w: bad line length", ErrMalformed)
		}
		if bytes.ContainsAny(line, "\r\n\t ") {
			return "", nil, fmt.Errorf("%w: stray whitespace", ErrMalformed)
		}
	}
	blob, err = base64.StdEncoding.Strict().DecodeString(string(bytes.Join(body, nil)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid base64 encoding", ErrMalformed)
	}
	return kind, blob, nil
}

// DecodeKind parses exactly one PEM block and requires it to be of the given
// type.
func DecodeKind(data []byte, want string) ([]byte, error) {
	kind, blob, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, fmt.Errorf("%w: %q, want %q", ErrUnexpectedType, kind, want)
	}
	return blob, nil
}

func writeMarker(buf *bytes.Buffer, marker []byte, kind string) {
	buf.Write(marker)
	buf.WriteString(kind)
	buf.Write(dashes)
	buf.WriteByte('\n')
}

func parseMarker(line, marker []byte) (string, bool) {
	if !bytes.HasPrefix(line, marker) || !bytes.HasSuffix(line, dashes) {
		return "", false
	}
	if len(line) <= len(marker)+len(dashes) {
		return "", false
	}
	return string(line[len(marker) : len(line)-len(dashes)]), true
}
