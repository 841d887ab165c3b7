// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keyservice is the key lifecycle facade: it generates, persists,
// loads and rotates a key pair and encrypts text messages with it.
//
// Messages map to integers as their big endian UTF-8 bytes. Leading NUL
// characters therefore do not survive a round trip.
package keyservice

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dark-bio/rsakeys-go/keystore"
	"github.com/dark-bio/rsakeys-go/password"
	"github.com/dark-bio/rsakeys-go/rsa"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// GeneratedPasswordLength is the length of auto-generated envelope passwords.
const GeneratedPasswordLength = 32

var (
	// ErrNoPasswordFile is returned by LoadPrivateKeyAuto when no password
	// side-channel file exists.
	ErrNoPasswordFile = errors.New("keyservice: no password file")

	// ErrMessageTooLong is returned when a message does not fit below the
	// modulus.
	ErrMessageTooLong = errors.New("keyservice: message too long for key")

	// ErrInvalidMessage is returned when a decrypted value is not UTF-8 text.
	ErrInvalidMessage = errors.New("keyservice: decrypted message is not valid UTF-8")
)

// State is the lifecycle position of the service's key.
type State int

const (
	Uninitialized State = iota // No key material
	Generated                  // Fresh key in memory only
	Persisted                  // Public key in clear, private key sealed on disk
	Loaded                     // Private key decrypted back into memory
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Generated:
		return "generated"
	case Persisted:
		return "persisted"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config configures a Service.
type Config struct {
	Store keystore.Config

	// Bits is the per-prime length used when GenerateKeys gets zero.
	Bits int

	// PasswordFile holds auto-generated passwords for unattended reloads.
	// It is plaintext on disk and only as safe as its file permissions. It
	// is backed up along with the envelope it opens.
	PasswordFile string

	Logger zerolog.Logger

	// Random feeds key and password generation, crypto/rand if nil.
	Random io.Reader
}

// DefaultConfig lays the key files out under dir: the envelope at the top,
// the public key and password file in a keys subdirectory.
func DefaultConfig(dir string) Config {
	store := keystore.DefaultConfig()
	store.PrivateKeyPath = filepath.Join(dir, store.PrivateKeyPath)
	store.PublicKeyPath = filepath.Join(dir, store.PublicKeyPath)

	return Config{
		Store:        store,
		Bits:         rsa.DefaultPrimeBits,
		PasswordFile: filepath.Join(dir, "keys", "auto_password.txt"),
		Logger:       zerolog.Nop(),
	}
}

// Service owns one key pair. It is safe for concurrent use.
type Service struct {
	cfg   Config
	store *keystore.Store
	log   zerolog.Logger

	lock   sync.Mutex
	engine *rsa.Engine
	state  State
}

// New creates a service with no key loaded.
func New(cfg Config) (*Service, error) {
	if cfg.Bits == 0 {
		cfg.Bits = rsa.DefaultPrimeBits
	}
	cfg.Store.Logger = cfg.Logger
	cfg.Store.PasswordPath = cfg.PasswordFile

	store, err := keystore.New(cfg.Store)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		log:    cfg.Logger.With().Str("component", "keyservice").Logger(),
		engine: rsa.NewEngine(nil, nil),
	}, nil
}

// Store returns the underlying key store.
func (s *Service) Store() *keystore.Store {
	return s.store
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

// PublicKey returns the loaded public key, or nil.
func (s *Service) PublicKey() *rsa.PublicKey {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.engine.PublicKey()
}

// GenerateKeys creates a fresh key pair with primes of the given length (the
// configured default if zero), seals the private key under pass and writes
// the public key. An empty pass generates a random password and stores it in
// the password file once the envelope is on disk.
func (s *Service) GenerateKeys(bits int, pass string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if bits == 0 {
		bits = s.cfg.Bits
	}
	key, err := rsa.GenerateKey(s.cfg.Random, bits)
	if err != nil {
		return err
	}
	s.engine = rsa.NewEngine(key.Public(), key)
	s.state = Generated
	s.log.Info().Int("bits", bits).Hex("fingerprint", fingerprint(key.Public())).Msg("Key pair generated")

	pass, staged, err := s.stagePassword(pass)
	if err != nil {
		return err
	}
	defer staged.discard()

	if err := s.store.EncryptAndSave(key, pass); err != nil {
		return err
	}
	if err := s.commitPassword(staged); err != nil {
		return err
	}
	if err := s.store.SavePublicKey(key.Public()); err != nil {
		return err
	}
	s.state = Persisted
	return nil
}

// Rotate replaces the persisted key pair with a fresh one sealed under
// newPass, keeping the previous envelope and its password file as backups.
// An empty newPass is handled as in GenerateKeys.
func (s *Service) Rotate(newPass string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	pass, staged, err := s.stagePassword(newPass)
	if err != nil {
		return err
	}
	defer staged.discard()

	gen := keystore.KeyGeneratorFunc(func() (*rsa.PrivateKey, error) {
		return rsa.GenerateKey(s.cfg.Random, s.cfg.Bits)
	})
	key, err := s.store.Rotate(gen, pass)
	if err != nil {
		return err
	}
	s.engine = rsa.NewEngine(key.Public(), key)
	s.state = Persisted

	return s.commitPassword(staged)
}

// LoadPublicKey reads the public key from disk, enabling encryption.
func (s *Service) LoadPublicKey() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	key, err := s.store.LoadPublicKey()
	if err != nil {
		return err
	}
	s.engine.SetPublicKey(key)
	s.log.Info().Hex("fingerprint", fingerprint(key)).Msg("Public key loaded")
	return nil
}

// LoadPrivateKey decrypts the envelope with pass, enabling decryption. A wrong
// password yields keystore.ErrAuthentication and leaves the service as is.
func (s *Service) LoadPrivateKey(pass string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.loadPrivateKey(pass)
}

// LoadPrivateKeyAuto is LoadPrivateKey with the password read from the
// password file. It never prompts; a missing file is ErrNoPasswordFile.
func (s *Service) LoadPrivateKeyAuto() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.cfg.PasswordFile == "" {
		return ErrNoPasswordFile
	}
	blob, err := os.ReadFile(s.cfg.PasswordFile)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoPasswordFile
	}
	if err != nil {
		return fmt.Errorf("keyservice: reading password file: %w", err)
	}
	return s.loadPrivateKey(strings.TrimSpace(string(blob)))
}

func (s *Service) loadPrivateKey(pass string) error {
	key, err := s.store.DecryptAndLoad(pass)
	if err != nil {
		return err
	}
	if old := s.engine.PublicKey(); old != nil && old.Fingerprint() != key.Fingerprint() {
		s.log.Warn().Hex("stale", fingerprint(old)).Hex("fingerprint", fingerprint(key.Public())).
			Msg("Loaded public key replaced by the private key's own")
	}
	s.engine.SetPrivateKey(key)
	s.engine.SetPublicKey(key.Public())
	s.state = Loaded
	s.log.Info().Hex("fingerprint", fingerprint(key.Public())).Msg("Private key loaded")
	return nil
}

// EncryptMessage encrypts the UTF-8 bytes of text as one big endian integer.
// Texts whose integer is not below the modulus are rejected.
func (s *Service) EncryptMessage(text string) (*big.Int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pub := s.engine.PublicKey()
	if pub == nil {
		return nil, rsa.ErrKeyNotInitialized
	}
	m := new(big.Int).SetBytes([]byte(text))
	if m.Cmp(pub.N) >= 0 {
		return nil, fmt.Errorf("%w: %d bytes, modulus is %d bits", ErrMessageTooLong, len(text), pub.N.BitLen())
	}
	return s.engine.Encrypt(m)
}

// DecryptMessage decrypts c via the CRT path and decodes the result as UTF-8.
func (s *Service) DecryptMessage(c *big.Int) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	m, err := s.engine.DecryptCRT(c)
	if err != nil {
		return "", err
	}
	b := m.Bytes()
	if !utf8.Valid(b) {
		return "", ErrInvalidMessage
	}
	return string(b), nil
}

// stagedPassword is a generated password written to a temporary sibling of
// the password file, waiting for its envelope to be saved.
type stagedPassword struct {
	file *renameio.PendingFile
	path string
}

// discard drops an uncommitted password. It is a no-op on nil or after a
// successful commit.
func (p *stagedPassword) discard() {
	if p != nil {
		p.file.Cleanup()
	}
}

// stagePassword returns pass unchanged, or for an empty pass a generated one
// staged for the password file. Nothing replaces the live password file until
// commitPassword.
func (s *Service) stagePassword(pass string) (string, *stagedPassword, error) {
	if pass != "" {
		return pass, nil, nil
	}
	if s.cfg.PasswordFile == "" {
		return "", nil, keystore.ErrEmptyPassword
	}
	pass, err := password.Generate(s.cfg.Random, GeneratedPasswordLength)
	if err != nil {
		return "", nil, err
	}
	dir := filepath.Dir(s.cfg.PasswordFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("keyservice: creating password directory: %w", err)
	}
	file, err := renameio.NewPendingFile(s.cfg.PasswordFile, renameio.WithTempDir(dir), renameio.WithStaticPermissions(0o600))
	if err != nil {
		return "", nil, fmt.Errorf("keyservice: staging password file: %w", err)
	}
	if _, err := io.WriteString(file, pass); err != nil {
		file.Cleanup()
		return "", nil, fmt.Errorf("keyservice: staging password file: %w", err)
	}
	return pass, &stagedPassword{file: file, path: s.cfg.PasswordFile}, nil
}

// commitPassword runs after the envelope is saved. A staged password replaces
// the password file; with an explicit password any leftover password file
// matches no envelope and is removed. The previous envelope's password file
// was already moved to its backup by the store.
func (s *Service) commitPassword(staged *stagedPassword) error {
	if staged == nil {
		if s.cfg.PasswordFile == "" {
			return nil
		}
		err := os.Remove(s.cfg.PasswordFile)
		if err == nil {
			s.log.Info().Str("path", s.cfg.PasswordFile).Msg("Stale password file removed")
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("keyservice: removing password file: %w", err)
		}
		return nil
	}
	if err := staged.file.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("keyservice: writing password file: %w", err)
	}
	s.log.Warn().Str("path", staged.path).
		Msg("Generated key password stored in plaintext; protect or remove this file")
	return nil
}

func fingerprint(key *rsa.PublicKey) []byte {
	fp := key.Fingerprint()
	return fp[:8]
}
