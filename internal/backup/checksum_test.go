package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestCalculateChecksum(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "data.sql", []byte("hello world\n"))

	checksum, err := CalculateChecksum(path)
	require.NoError(t, err)
	// sha256 of "hello world\n"
	assert.Equal(t, "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447", checksum)
}

func TestCalculateChecksum_MissingFile(t *testing.T) {
	_, err := CalculateChecksum(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestWriteAndVerifySidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "orders_full_20240101_120000.sql.gz.enc", []byte("artifact bytes"))

	sidecar, err := WriteSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "checksums", "orders_full_20240101_120000.sql.gz.enc.sha256"), sidecar)

	content, err := os.ReadFile(sidecar)
	require.NoError(t, err)
	fields := strings.Fields(string(content))
	require.Len(t, fields, 2, "sidecar should use sha256sum format")
	assert.Equal(t, "orders_full_20240101_120000.sql.gz.enc", fields[1])

	assert.NoError(t, VerifySidecar(path))
}

func TestVerifySidecar_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "artifact.bin", []byte("original content"))

	_, err := WriteSidecar(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered content"), 0o644))

	err = VerifySidecar(path)
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeCorruption))
}

func TestVerifySidecar_MissingSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "artifact.bin", []byte("content"))

	err := VerifySidecar(path)
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeNotFound))
}

func TestReadSidecar_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "artifact.bin", []byte("content"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "checksums"), 0o755))
	writeTestFile(t, filepath.Join(dir, "checksums"), "artifact.bin.sha256", []byte("nothex artifact.bin\n"))

	_, err := ReadSidecar(path)
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeCorruption))
}
