package backup

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType identifies a compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// ParseCompressionType validates a compression algorithm name
func ParseCompressionType(name string) (CompressionType, error) {
	switch strings.ToLower(name) {
	case "", "gzip", "gz":
		return CompressionTypeGzip, nil
	case "lz4":
		return CompressionTypeLZ4, nil
	case "zstd", "zst":
		return CompressionTypeZstd, nil
	case "none":
		return CompressionTypeNone, nil
	default:
		return "", NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", name), nil)
	}
}

// Compressor wraps a stream with one compression algorithm. Dumps can
// be far larger than memory, so compression is streaming throughout.
type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	Type() CompressionType
	Extension() string
}

// CompressionManager resolves compressors by algorithm and by artifact
// file extension
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with all supported algorithms
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionTypeGzip] = &GzipCompressor{}
	cm.compressors[CompressionTypeLZ4] = &LZ4Compressor{}
	cm.compressors[CompressionTypeZstd] = &ZstdCompressor{}

	return cm
}

// ForType returns the compressor for an algorithm
func (cm *CompressionManager) ForType(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// ForFileName detects the compressor from an artifact file name. The
// encryption suffix is ignored so "dump.sql.gz.enc" resolves to gzip.
func (cm *CompressionManager) ForFileName(name string) (Compressor, error) {
	trimmed := strings.TrimSuffix(name, EncryptedSuffix)

	for _, compressor := range cm.compressors {
		if strings.HasSuffix(trimmed, compressor.Extension()) {
			return compressor, nil
		}
	}

	return nil, NewCompressionError(
		fmt.Sprintf("cannot detect compression algorithm from file name %s", name), nil)
}

// SupportedAlgorithms returns the algorithms the manager knows
func (cm *CompressionManager) SupportedAlgorithms() []CompressionType {
	algorithms := make([]CompressionType, 0, len(cm.compressors))
	for algorithm := range cm.compressors {
		algorithms = append(algorithms, algorithm)
	}
	return algorithms
}

// GzipCompressor implements gzip streaming compression
type GzipCompressor struct{}

func (gc *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	writer, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip writer", err)
	}
	return writer, nil
}

func (gc *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	return reader, nil
}

func (gc *GzipCompressor) Type() CompressionType {
	return CompressionTypeGzip
}

func (gc *GzipCompressor) Extension() string {
	return ".gz"
}

// LZ4Compressor implements LZ4 streaming compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lc *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lc *LZ4Compressor) Type() CompressionType {
	return CompressionTypeLZ4
}

func (lc *LZ4Compressor) Extension() string {
	return ".lz4"
}

// ZstdCompressor implements Zstandard streaming compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, NewCompressionError("failed to create zstd encoder", err)
	}
	return encoder, nil
}

func (zc *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	return decoder.IOReadCloser(), nil
}

func (zc *ZstdCompressor) Type() CompressionType {
	return CompressionTypeZstd
}

func (zc *ZstdCompressor) Extension() string {
	return ".zst"
}
