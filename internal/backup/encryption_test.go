package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptionManager(t *testing.T) *EncryptionManager {
	t.Helper()
	em, err := NewEncryptionManager([]byte("test key material for unit tests"))
	require.NoError(t, err)
	return em
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	em := newTestEncryptionManager(t)
	plaintext := []byte("CREATE TABLE orders (id INT PRIMARY KEY);")

	encrypted, err := em.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encrypted)
	assert.Greater(t, len(encrypted), len(plaintext), "output carries salt, nonce and auth tag")

	decrypted, err := em.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_FreshSaltPerOperation(t *testing.T) {
	em := newTestEncryptionManager(t)
	plaintext := []byte("same input twice")

	first, err := em.Encrypt(plaintext)
	require.NoError(t, err)
	second, err := em.Encrypt(plaintext)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(first, second),
		"two encryptions of the same plaintext must differ")
	assert.False(t, bytes.Equal(first[:32], second[:32]),
		"each operation must use a fresh salt")
}

func TestDecrypt_WrongKeyMaterial(t *testing.T) {
	em := newTestEncryptionManager(t)
	encrypted, err := em.Encrypt([]byte("secret"))
	require.NoError(t, err)

	other, err := NewEncryptionManager([]byte("different key material"))
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeEncryption))
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	em := newTestEncryptionManager(t)
	encrypted, err := em.Encrypt([]byte("secret"))
	require.NoError(t, err)

	encrypted[len(encrypted)-1] ^= 0xFF

	_, err = em.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestDecrypt_TruncatedInput(t *testing.T) {
	em := newTestEncryptionManager(t)

	_, err := em.Decrypt([]byte("short"))
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeEncryption))

	_, err = em.Decrypt(make([]byte, 40))
	assert.Error(t, err)
}

func TestNewEncryptionManager_EmptyMaterial(t *testing.T) {
	_, err := NewEncryptionManager(nil)
	assert.Error(t, err)
}

func TestEncryptDecryptFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	em := newTestEncryptionManager(t)

	src := filepath.Join(dir, "dump.sql.gz")
	require.NoError(t, os.WriteFile(src, []byte("compressed dump bytes"), 0o644))

	encPath := src + EncryptedSuffix
	require.NoError(t, em.EncryptFile(src, encPath))

	decPath := filepath.Join(dir, "restored.sql.gz")
	require.NoError(t, em.DecryptFile(encPath, decPath))

	restored, err := os.ReadFile(decPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("compressed dump bytes"), restored)
}

func TestDecryptFile_FailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	em := newTestEncryptionManager(t)

	src := filepath.Join(dir, "garbage.enc")
	require.NoError(t, os.WriteFile(src, []byte("this is not encrypted data at all"), 0o644))

	dst := filepath.Join(dir, "out.sql.gz")
	err := em.DecryptFile(src, dst)
	require.Error(t, err)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "failed decryption must not leave a partial output file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".enc-", "temporary file left behind")
	}
}

func TestKeyManager_EnsureAndLoad(t *testing.T) {
	dir := t.TempDir()
	km := NewKeyManager(filepath.Join(dir, DefaultKeyFileName))

	require.NoError(t, km.EnsureKeyFile())

	info, err := os.Stat(km.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	material, err := km.Load()
	require.NoError(t, err)
	assert.Len(t, material, 64)

	// Second ensure must not rotate the material.
	require.NoError(t, km.EnsureKeyFile())
	again, err := km.Load()
	require.NoError(t, err)
	assert.Equal(t, material, again)
}

func TestKeyManager_RejectsLooseWorldReadableKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(path, []byte("material"), 0o644))

	_, err := NewKeyManager(path).Load()
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeEncryption))
}

func TestKeyManager_MissingFile(t *testing.T) {
	km := NewKeyManager(filepath.Join(t.TempDir(), "missing"))
	_, err := km.Load()
	assert.Error(t, err)
}

func TestNewEncryptionManagerFromFile(t *testing.T) {
	dir := t.TempDir()
	km := NewKeyManager(filepath.Join(dir, DefaultKeyFileName))
	require.NoError(t, km.EnsureKeyFile())

	em, err := NewEncryptionManagerFromFile(km.Path())
	require.NoError(t, err)

	encrypted, err := em.Encrypt([]byte("payload"))
	require.NoError(t, err)
	decrypted, err := em.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), decrypted)
}
