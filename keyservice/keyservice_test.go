// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keyservice

import (
	"bytes"
	"math/big"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dark-bio/rsakeys-go/keystore"
	"github.com/dark-bio/rsakeys-go/rsa"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newService creates a service in a temp dir with a fast work factor and a
// seeded random source.
func newService(t *testing.T, dir string, seed byte) *Service {
	t.Helper()

	cfg := DefaultConfig(dir)
	cfg.Store.Iterations = keystore.MinIterations
	cfg.Random = rand.NewChaCha8([32]byte{seed})

	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "loaded", Loaded.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/srv/app")
	assert.Equal(t, "/srv/app/rsa_key_secure.json", cfg.Store.PrivateKeyPath)
	assert.Equal(t, "/srv/app/keys/public_key.json", cfg.Store.PublicKeyPath)
	assert.Equal(t, "/srv/app/keys/auto_password.txt", cfg.PasswordFile)
	assert.Equal(t, rsa.DefaultPrimeBits, cfg.Bits)
}

func TestUninitialized(t *testing.T) {
	svc := newService(t, t.TempDir(), 1)
	assert.Equal(t, Uninitialized, svc.State())
	assert.Nil(t, svc.PublicKey())

	_, err := svc.EncryptMessage("hi")
	require.ErrorIs(t, err, rsa.ErrKeyNotInitialized)

	_, err = svc.DecryptMessage(big.NewInt(5))
	require.ErrorIs(t, err, rsa.ErrKeyNotInitialized)

	require.ErrorIs(t, svc.LoadPrivateKeyAuto(), ErrNoPasswordFile)
}

// Tests the full lifecycle with an explicit password across two services
// sharing one directory.
func TestLifecycle(t *testing.T) {
	dir := t.TempDir()

	owner := newService(t, dir, 2)
	require.NoError(t, owner.GenerateKeys(0, "s3cret"))
	assert.Equal(t, Persisted, owner.State())
	assert.NoFileExists(t, owner.cfg.PasswordFile)

	c, err := owner.EncryptMessage("Hello, 世界")
	require.NoError(t, err)

	text, err := owner.DecryptMessage(c)
	require.NoError(t, err)
	assert.Equal(t, "Hello, 世界", text)

	// A second process encrypts with the public key only
	sender := newService(t, dir, 3)
	require.NoError(t, sender.LoadPublicKey())
	assert.Equal(t, owner.PublicKey().Fingerprint(), sender.PublicKey().Fingerprint())

	c2, err := sender.EncryptMessage("order #42")
	require.NoError(t, err)

	_, err = sender.DecryptMessage(c2)
	require.ErrorIs(t, err, rsa.ErrKeyNotInitialized)

	// A third decrypts after loading the sealed private key
	receiver := newService(t, dir, 4)
	require.ErrorIs(t, receiver.LoadPrivateKey("wrong"), keystore.ErrAuthentication)
	assert.Equal(t, Uninitialized, receiver.State())

	require.NoError(t, receiver.LoadPrivateKey("s3cret"))
	assert.Equal(t, Loaded, receiver.State())

	text, err = receiver.DecryptMessage(c2)
	require.NoError(t, err)
	assert.Equal(t, "order #42", text)

	// Loading the private key also restores the public half
	c3, err := receiver.EncryptMessage("back")
	require.NoError(t, err)
	text, err = owner.DecryptMessage(c3)
	require.NoError(t, err)
	assert.Equal(t, "back", text)
}

// Tests the unattended path: a generated password lands in the password file
// and is picked up by LoadPrivateKeyAuto.
func TestAutoPassword(t *testing.T) {
	dir := t.TempDir()

	var logs bytes.Buffer
	cfg := DefaultConfig(dir)
	cfg.Store.Iterations = keystore.MinIterations
	cfg.Logger = zerolog.New(&logs)

	owner, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, owner.GenerateKeys(0, ""))

	blob, err := os.ReadFile(cfg.PasswordFile)
	require.NoError(t, err)
	assert.Len(t, string(blob), GeneratedPasswordLength)

	info, err := os.Stat(cfg.PasswordFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// The operator is warned, but the secret itself is never logged
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "plaintext")
	assert.NotContains(t, logs.String(), string(blob))

	// Trailing newlines added by editors are tolerated
	require.NoError(t, os.WriteFile(cfg.PasswordFile, append(blob, '\n'), 0o600))

	loader := newService(t, dir, 5)
	require.NoError(t, loader.LoadPrivateKeyAuto())
	assert.Equal(t, Loaded, loader.State())

	// Regenerating with an explicit password drops the stale password file
	require.NoError(t, owner.GenerateKeys(0, "explicit"))
	assert.NoFileExists(t, cfg.PasswordFile)
	require.ErrorIs(t, loader.LoadPrivateKeyAuto(), ErrNoPasswordFile)
}

func TestEncryptMessageLimits(t *testing.T) {
	svc := newService(t, t.TempDir(), 6)
	require.NoError(t, svc.GenerateKeys(rsa.MinPrimeBits, "pw"))

	// The modulus is about 1024 bits, so 127 bytes always fit and 129 never do
	fits := strings.Repeat("a", 127)
	c, err := svc.EncryptMessage(fits)
	require.NoError(t, err)
	text, err := svc.DecryptMessage(c)
	require.NoError(t, err)
	assert.Equal(t, fits, text)

	_, err = svc.EncryptMessage(strings.Repeat("a", 129))
	require.ErrorIs(t, err, ErrMessageTooLong)

	// The empty message maps to zero and back
	c, err = svc.EncryptMessage("")
	require.NoError(t, err)
	text, err = svc.DecryptMessage(c)
	require.NoError(t, err)
	assert.Equal(t, "", text)

	require.ErrorIs(t, svc.GenerateKeys(64, "pw"), rsa.ErrKeyTooSmall)
}

func TestDecryptMessageInvalidUTF8(t *testing.T) {
	svc := newService(t, t.TempDir(), 7)
	require.NoError(t, svc.GenerateKeys(0, "pw"))

	c := svc.PublicKey().Encrypt(new(big.Int).SetBytes([]byte{0xff, 0xfe}))
	_, err := svc.DecryptMessage(c)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, dir, 8)

	require.NoError(t, svc.GenerateKeys(0, "one"))
	before := svc.PublicKey().Fingerprint()

	c, err := svc.EncryptMessage("under the old key")
	require.NoError(t, err)

	require.NoError(t, svc.Rotate("two"))
	assert.Equal(t, Persisted, svc.State())
	assert.NotEqual(t, before, svc.PublicKey().Fingerprint())

	backups, err := svc.Store().Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, filepath.Join(dir, "rsa_key_secure.json"), strings.Split(backups[0], ".backup.")[0])

	// The new envelope opens with the new password only
	other := newService(t, dir, 9)
	require.ErrorIs(t, other.LoadPrivateKey("one"), keystore.ErrAuthentication)
	require.NoError(t, other.LoadPrivateKey("two"))
	assert.Equal(t, svc.PublicKey().Fingerprint(), other.PublicKey().Fingerprint())

	// Messages sealed under the old key no longer decrypt to the plaintext
	if text, err := other.DecryptMessage(c); err == nil {
		assert.NotEqual(t, "under the old key", text)
	}
	// An empty password rotates to a generated one
	require.NoError(t, svc.Rotate(""))
	assert.FileExists(t, svc.cfg.PasswordFile)
	require.NoError(t, other.LoadPrivateKeyAuto())
}

// Tests that every backup envelope still opens with the password file backed
// up next to it, across generated and explicit password rotations.
func TestBackupsStayOpenable(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, dir, 10)

	var prints [][32]byte
	require.NoError(t, svc.GenerateKeys(0, ""))
	prints = append(prints, svc.PublicKey().Fingerprint())

	require.NoError(t, svc.Rotate(""))
	prints = append(prints, svc.PublicKey().Fingerprint())

	require.NoError(t, svc.Rotate("explicit"))

	backups, err := svc.Store().Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	for i, backup := range backups {
		blob, err := os.ReadFile(svc.Store().PasswordBackupPath(backup))
		require.NoError(t, err)
		assert.Len(t, string(blob), GeneratedPasswordLength)

		old, err := keystore.New(keystore.Config{
			PrivateKeyPath: backup,
			PublicKeyPath:  svc.Store().PublicKeyPath(),
			Iterations:     keystore.MinIterations,
		})
		require.NoError(t, err)
		key, err := old.DecryptAndLoad(string(blob))
		require.NoError(t, err, backup)
		assert.Equal(t, prints[i], key.Fingerprint())
	}
	// The live envelope has no password file of its own
	assert.NoFileExists(t, svc.cfg.PasswordFile)

	other := newService(t, dir, 11)
	require.ErrorIs(t, other.LoadPrivateKeyAuto(), ErrNoPasswordFile)
	require.NoError(t, other.LoadPrivateKey("explicit"))
}

// Tests that a generated password is not left behind when its envelope could
// not be written.
func TestGenerateKeysSaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	cfg := DefaultConfig(dir)
	cfg.Store.Iterations = keystore.MinIterations
	cfg.Store.PrivateKeyPath = filepath.Join(blocker, "rsa_key_secure.json")

	svc, err := New(cfg)
	require.NoError(t, err)
	require.Error(t, svc.GenerateKeys(0, ""))
	assert.Equal(t, Generated, svc.State())

	assert.NoFileExists(t, cfg.PasswordFile)
	entries, err := os.ReadDir(filepath.Dir(cfg.PasswordFile))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// Tests that loading the private key replaces a public key loaded before a
// rotation by another process, so both directions use the same modulus.
func TestLoadPrivateKeyReplacesStalePublicKey(t *testing.T) {
	dir := t.TempDir()

	owner := newService(t, dir, 12)
	require.NoError(t, owner.GenerateKeys(0, "one"))

	client := newService(t, dir, 13)
	require.NoError(t, client.LoadPublicKey())

	require.NoError(t, owner.Rotate("two"))
	require.NoError(t, client.LoadPrivateKey("two"))
	assert.Equal(t, owner.PublicKey().Fingerprint(), client.PublicKey().Fingerprint())

	c, err := client.EncryptMessage("hello")
	require.NoError(t, err)
	text, err := client.DecryptMessage(c)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}
