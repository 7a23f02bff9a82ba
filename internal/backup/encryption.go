package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedSuffix marks encrypted artifact files
const EncryptedSuffix = ".enc"

// DefaultKeyFileName is the key file created next to the backup
// directory when none is configured
const DefaultKeyFileName = ".backup_encryption_key"

const (
	saltSize         = 32
	keySize          = 32 // AES-256
	pbkdf2Iterations = 100000
	keyMaterialSize  = 64
	keyFileMode      = os.FileMode(0o600)
)

// KeyManager handles the key material file. The file holds arbitrary
// secret bytes; the AES key is derived per operation with PBKDF2 and a
// fresh salt, so two encryptions of the same plaintext never share a
// key stream.
type KeyManager struct {
	path string
}

// NewKeyManager creates a key manager for the given key file path
func NewKeyManager(path string) *KeyManager {
	return &KeyManager{path: path}
}

// Path returns the key file path
func (km *KeyManager) Path() string {
	return km.path
}

// EnsureKeyFile creates the key file with fresh random material if it
// does not exist yet. Existing files are left untouched.
func (km *KeyManager) EnsureKeyFile() error {
	if _, err := os.Stat(km.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return NewEncryptionError("failed to stat key file", err)
	}

	material := make([]byte, keyMaterialSize)
	if _, err := rand.Read(material); err != nil {
		return NewEncryptionError("failed to generate key material", err)
	}

	if err := os.MkdirAll(filepath.Dir(km.path), 0o755); err != nil {
		return NewEncryptionError("failed to create key file directory", err)
	}

	if err := os.WriteFile(km.path, material, keyFileMode); err != nil {
		return NewEncryptionError("failed to write key file", err)
	}

	return nil
}

// Load reads the key material. A key file readable by group or other
// is rejected; a leaked key silently defeats all artifact encryption.
func (km *KeyManager) Load() ([]byte, error) {
	info, err := os.Stat(km.path)
	if os.IsNotExist(err) {
		return nil, NewEncryptionError(
			fmt.Sprintf("encryption key file %s does not exist", km.path), err)
	}
	if err != nil {
		return nil, NewEncryptionError("failed to stat key file", err)
	}

	if info.Mode().Perm()&0o077 != 0 {
		return nil, NewEncryptionError(
			fmt.Sprintf("key file %s has permissions %04o, expected 0600", km.path, info.Mode().Perm()), nil)
	}

	material, err := os.ReadFile(km.path)
	if err != nil {
		return nil, NewEncryptionError("failed to read key file", err)
	}

	if len(material) == 0 {
		return nil, NewEncryptionError("key file is empty", nil)
	}

	return material, nil
}

// EncryptionManager encrypts and decrypts artifacts with AES-256-GCM.
// Output layout is salt || nonce || ciphertext.
type EncryptionManager struct {
	keyMaterial []byte
}

// NewEncryptionManager creates a manager over loaded key material
func NewEncryptionManager(keyMaterial []byte) (*EncryptionManager, error) {
	if len(keyMaterial) == 0 {
		return nil, NewEncryptionError("key material must not be empty", nil)
	}
	return &EncryptionManager{keyMaterial: keyMaterial}, nil
}

// NewEncryptionManagerFromFile loads key material and creates a manager
func NewEncryptionManagerFromFile(keyPath string) (*EncryptionManager, error) {
	material, err := NewKeyManager(keyPath).Load()
	if err != nil {
		return nil, err
	}
	return NewEncryptionManager(material)
}

func (em *EncryptionManager) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(em.keyMaterial, salt, pbkdf2Iterations, keySize, sha256.New)
}

// Encrypt seals data with a fresh salt and nonce
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, NewEncryptionError("failed to generate salt", err)
	}

	gcm, err := em.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, data, nil)

	return out, nil
}

// Decrypt opens data sealed by Encrypt. Authentication failure means
// the artifact is corrupt or was encrypted with different key material.
func (em *EncryptionManager) Decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, NewEncryptionError("encrypted data too short to carry a salt", nil)
	}

	salt := data[:saltSize]
	gcm, err := em.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	rest := data[saltSize:]
	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short to carry a nonce", nil)
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("decryption failed, wrong key or corrupted data", err)
	}

	return plaintext, nil
}

func (em *EncryptionManager) cipherFor(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(em.deriveKey(salt))
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}

	return gcm, nil
}

// EncryptFile encrypts src into dst. The output is written to a
// temporary file and renamed, so a failed encryption leaves no partial
// dst behind.
func (em *EncryptionManager) EncryptFile(src, dst string) error {
	return em.transformFile(src, dst, em.Encrypt)
}

// DecryptFile decrypts src into dst with the same no-partial-output
// guarantee as EncryptFile
func (em *EncryptionManager) DecryptFile(src, dst string) error {
	return em.transformFile(src, dst, em.Decrypt)
}

func (em *EncryptionManager) transformFile(src, dst string, transform func([]byte) ([]byte, error)) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return NewEncryptionError(fmt.Sprintf("failed to read %s", src), err)
	}

	out, err := transform(data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".enc-*")
	if err != nil {
		return NewEncryptionError("failed to create temporary output file", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(out)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr == nil {
			writeErr = closeErr
		}
		return NewEncryptionError("failed to write output file", writeErr)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return NewEncryptionError("failed to set output permissions", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return NewEncryptionError("failed to move output into place", err)
	}

	return nil
}
