// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keystore persists RSA keys: the public half as clear JSON and the
// private half inside a password protected envelope (PBKDF2-HMAC-SHA1 derived
// AES-256-CBC key, PKCS#7 padding, base64 fields in a JSON document).
//
// An existing envelope is never overwritten. It is first renamed aside to
// <name>.backup.<unix-seconds>, with a -N suffix if that name is taken. A
// configured password file travels with it under the same suffix, so every
// backup stays openable.
package keystore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dark-bio/rsakeys-go/rsa"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// Config holds the storage locations and parameters of a Store.
type Config struct {
	PrivateKeyPath string
	PublicKeyPath  string
	Iterations     int
	Logger         zerolog.Logger

	// PasswordPath is an optional plaintext password file holding the secret
	// of the current envelope. It is backed up together with the envelope.
	PasswordPath string

	// Clock stamps backup names, time.Now if nil.
	Clock func() time.Time

	// Random supplies salts and IVs, crypto/rand if nil.
	Random io.Reader
}

// DefaultConfig returns the conventional file layout relative to the working
// directory.
func DefaultConfig() Config {
	return Config{
		PrivateKeyPath: "rsa_key_secure.json",
		PublicKeyPath:  filepath.Join("keys", "public_key.json"),
		Iterations:     DefaultIterations,
		Logger:         zerolog.Nop(),
	}
}

// KeyGenerator produces fresh private keys for rotation.
type KeyGenerator interface {
	GenerateKey() (*rsa.PrivateKey, error)
}

// KeyGeneratorFunc adapts a plain function to KeyGenerator.
type KeyGeneratorFunc func() (*rsa.PrivateKey, error)

// GenerateKey implements KeyGenerator.
func (f KeyGeneratorFunc) GenerateKey() (*rsa.PrivateKey, error) {
	return f()
}

// Store reads and writes the key files of one key pair.
type Store struct {
	cfg Config
	log zerolog.Logger
}

// New creates a store from the config, filling in defaults for the clock and
// random source.
func New(cfg Config) (*Store, error) {
	if cfg.PrivateKeyPath == "" || cfg.PublicKeyPath == "" {
		return nil, errors.New("keystore: key paths must be set")
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Iterations < MinIterations {
		return nil, fmt.Errorf("%w: got %d, want >= %d", ErrWeakIterations, cfg.Iterations, MinIterations)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	return &Store{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "keystore").Logger(),
	}, nil
}

// PrivateKeyPath returns the envelope location.
func (s *Store) PrivateKeyPath() string { return s.cfg.PrivateKeyPath }

// PublicKeyPath returns the public key location.
func (s *Store) PublicKeyPath() string { return s.cfg.PublicKeyPath }

// PasswordPath returns the password file location, empty if none.
func (s *Store) PasswordPath() string { return s.cfg.PasswordPath }

// PasswordBackupPath maps an envelope backup to the backup of the password
// file taken with it. It returns "" if no password file is configured.
func (s *Store) PasswordBackupPath(backup string) string {
	if s.cfg.PasswordPath == "" {
		return ""
	}
	return s.cfg.PasswordPath + strings.TrimPrefix(backup, s.cfg.PrivateKeyPath)
}

// EncryptAndSave seals the private key under the password and writes the
// envelope atomically. A previous envelope is backed up first.
func (s *Store) EncryptAndSave(key *rsa.PrivateKey, password string) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return err
	}
	env, err := Seal(s.cfg.Random, payload, password, s.cfg.Iterations)
	if err != nil {
		return err
	}
	blob, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	if _, err := s.backup(); err != nil && !errors.Is(err, ErrNoEnvelope) {
		return err
	}
	if err := writeFileAtomic(s.cfg.PrivateKeyPath, blob, 0o600); err != nil {
		return err
	}
	s.log.Info().Str("path", s.cfg.PrivateKeyPath).Msg("Private key envelope written")
	return nil
}

// DecryptAndLoad opens the envelope with the password and restores the
// private key, including its derived CRT values. Missing or unreadable files
// surface the underlying fs error, everything else is ErrAuthentication.
func (s *Store) DecryptAndLoad(password string) (*rsa.PrivateKey, error) {
	blob, err := os.ReadFile(s.cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("keystore: reading envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, ErrAuthentication
	}
	payload, err := Open(&env, password, s.cfg.Iterations)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			s.log.Warn().Str("path", s.cfg.PrivateKeyPath).Msg("Private key envelope rejected")
		}
		return nil, err
	}
	key := new(rsa.PrivateKey)
	if err := json.Unmarshal(payload, key); err != nil {
		return nil, ErrAuthentication
	}
	if err := key.Precompute(); err != nil {
		return nil, ErrAuthentication
	}
	if err := key.Validate(); err != nil {
		s.log.Warn().Err(err).Str("path", s.cfg.PrivateKeyPath).Msg("Private key envelope holds an inconsistent key")
		return nil, ErrAuthentication
	}
	return key, nil
}

// SavePublicKey writes the public key in clear JSON, replacing any previous
// one.
func (s *Store) SavePublicKey(key *rsa.PublicKey) error {
	blob, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.cfg.PublicKeyPath, blob, 0o644); err != nil {
		return err
	}
	s.log.Info().Str("path", s.cfg.PublicKeyPath).Msg("Public key written")
	return nil
}

// LoadPublicKey reads the clear public key.
func (s *Store) LoadPublicKey() (*rsa.PublicKey, error) {
	blob, err := os.ReadFile(s.cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("keystore: reading public key: %w", err)
	}
	key := new(rsa.PublicKey)
	if err := json.Unmarshal(blob, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Backup renames the current envelope, and the password file if there is one,
// aside and returns the envelope's backup path. It fails with ErrNoEnvelope if
// there is no envelope.
func (s *Store) Backup() (string, error) {
	return s.backup()
}

func (s *Store) backup() (string, error) {
	if _, err := os.Stat(s.cfg.PrivateKeyPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoEnvelope
		}
		return "", fmt.Errorf("keystore: inspecting envelope: %w", err)
	}
	base := fmt.Sprintf("%s.backup.%d", s.cfg.PrivateKeyPath, s.cfg.Clock().Unix())

	path := base
	for i := 1; ; i++ {
		free, err := s.backupFree(path)
		if err != nil {
			return "", err
		}
		if free {
			break
		}
		path = fmt.Sprintf("%s-%d", base, i)
	}
	if err := os.Rename(s.cfg.PrivateKeyPath, path); err != nil {
		return "", fmt.Errorf("keystore: backing up envelope: %w", err)
	}
	s.log.Info().Str("backup", path).Msg("Private key envelope backed up")

	if s.cfg.PasswordPath != "" {
		pwPath := s.PasswordBackupPath(path)
		err := os.Rename(s.cfg.PasswordPath, pwPath)
		switch {
		case err == nil:
			s.log.Info().Str("backup", pwPath).Msg("Password file backed up")
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("keystore: backing up password file: %w", err)
		}
	}
	return path, nil
}

// backupFree reports whether neither the envelope backup nor its password
// file counterpart exists yet.
func (s *Store) backupFree(path string) (bool, error) {
	paths := []string{path}
	if s.cfg.PasswordPath != "" {
		paths = append(paths, s.PasswordBackupPath(path))
	}
	for _, p := range paths {
		_, err := os.Lstat(p)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("keystore: inspecting backup: %w", err)
		}
	}
	return true, nil
}

// Rotate replaces the key pair: a new key is generated, the current envelope
// is backed up and the new envelope and public key are written. A failed
// generation leaves the files untouched. Prior backups are never touched.
func (s *Store) Rotate(gen KeyGenerator, newPassword string) (*rsa.PrivateKey, error) {
	if newPassword == "" {
		return nil, ErrEmptyPassword
	}
	key, err := gen.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := s.EncryptAndSave(key, newPassword); err != nil {
		return nil, err
	}
	if err := s.SavePublicKey(key.Public()); err != nil {
		return nil, err
	}
	s.log.Info().Hex("fingerprint", fingerprint(key)).Msg("Key pair rotated")
	return key, nil
}

// Backups lists the backup envelopes, oldest first.
func (s *Store) Backups() ([]string, error) {
	prefix := s.cfg.PrivateKeyPath + ".backup."

	matches, err := filepath.Glob(globEscape(prefix) + "*")
	if err != nil {
		return nil, err
	}
	type entry struct {
		path   string
		stamp  int64
		suffix int
	}
	var entries []entry
	for _, path := range matches {
		stamp, suffix, ok := parseBackupSuffix(strings.TrimPrefix(path, prefix))
		if !ok {
			continue
		}
		entries = append(entries, entry{path, stamp, suffix})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if a.stamp != b.stamp {
			if a.stamp < b.stamp {
				return -1
			}
			return 1
		}
		return a.suffix - b.suffix
	})
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths, nil
}

// parseBackupSuffix splits "<unix>" or "<unix>-<n>".
func parseBackupSuffix(s string) (stamp int64, suffix int, ok bool) {
	head, tail, found := strings.Cut(s, "-")
	stamp, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if found {
		if suffix, err = strconv.Atoi(tail); err != nil || suffix < 1 {
			return 0, 0, false
		}
	}
	return stamp, suffix, true
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}

func fingerprint(key *rsa.PrivateKey) []byte {
	fp := key.Fingerprint()
	return fp[:8]
}

// writeFileAtomic replaces path with data through a synced temporary sibling,
// creating the parent directory if needed.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("keystore: creating directory: %w", err)
	}
	t, err := renameio.NewPendingFile(path, renameio.WithTempDir(dir), renameio.WithStaticPermissions(perm))
	if err != nil {
		return fmt.Errorf("keystore: creating temp file: %w", err)
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return fmt.Errorf("keystore: writing %s: %w", path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("keystore: replacing %s: %w", path, err)
	}
	return nil
}
