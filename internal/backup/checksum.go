package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ChecksumSuffix is appended to an artifact name to name its sidecar
const ChecksumSuffix = ".sha256"

// ChecksumDirName is the subdirectory holding checksum sidecars, next
// to the artifacts they cover.
const ChecksumDirName = "checksums"

// SidecarPath returns the checksum sidecar path for an artifact. The
// sidecar lives in a checksums/ subdirectory beside the artifact.
func SidecarPath(artifactPath string) string {
	return filepath.Join(filepath.Dir(artifactPath), ChecksumDirName,
		filepath.Base(artifactPath)+ChecksumSuffix)
}

// CalculateChecksum computes the SHA-256 digest of a file as a hex
// string. The file is streamed, not loaded into memory.
func CalculateChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", NewStorageError("failed to open file for checksum", err).
			WithContext("path", path)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", NewStorageError("failed to read file for checksum", err).
			WithContext("path", path)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// WriteSidecar computes the artifact's checksum and writes it to the
// sidecar file in sha256sum format, so `sha256sum -c` can verify the
// artifact independently of this tool.
func WriteSidecar(artifactPath string) (string, error) {
	checksum, err := CalculateChecksum(artifactPath)
	if err != nil {
		return "", err
	}

	sidecar := SidecarPath(artifactPath)
	if err := os.MkdirAll(filepath.Dir(sidecar), 0o755); err != nil {
		return "", NewStorageError("failed to create checksum directory", err).
			WithContext("path", filepath.Dir(sidecar))
	}
	content := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(artifactPath))

	if err := os.WriteFile(sidecar, []byte(content), 0o644); err != nil {
		return "", NewStorageError("failed to write checksum sidecar", err).
			WithContext("path", sidecar)
	}

	return sidecar, nil
}

// ReadSidecar parses the expected checksum from an artifact's sidecar
func ReadSidecar(artifactPath string) (string, error) {
	sidecar := SidecarPath(artifactPath)

	content, err := os.ReadFile(sidecar)
	if os.IsNotExist(err) {
		return "", NewNotFoundError(
			fmt.Sprintf("no checksum sidecar for %s", filepath.Base(artifactPath)), err)
	}
	if err != nil {
		return "", NewStorageError("failed to read checksum sidecar", err).
			WithContext("path", sidecar)
	}

	fields := strings.Fields(string(content))
	if len(fields) < 1 || len(fields[0]) != sha256.Size*2 {
		return "", NewCorruptionError(
			fmt.Sprintf("malformed checksum sidecar %s", filepath.Base(sidecar)), nil)
	}

	return strings.ToLower(fields[0]), nil
}

// VerifySidecar recomputes the artifact's checksum and compares it
// against the sidecar. A mismatch is a corruption error; restore must
// abort rather than import damaged data.
func VerifySidecar(artifactPath string) error {
	expected, err := ReadSidecar(artifactPath)
	if err != nil {
		return err
	}

	actual, err := CalculateChecksum(artifactPath)
	if err != nil {
		return err
	}

	if actual != expected {
		return NewCorruptionError(
			fmt.Sprintf("checksum mismatch for %s", filepath.Base(artifactPath)), nil).
			WithContext("expected", expected).
			WithContext("actual", actual)
	}

	return nil
}
