package wire

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"hash/adler32"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
)

// DigestKind selects the checksum applied to a header, body or payload
// section when DIGEST_DATA negotiates on.
type DigestKind uint8

const (
	DigestNone DigestKind = iota
	DigestADLER32
	DigestCRC32
)

func (k DigestKind) String() string {
	switch k {
	case DigestNone:
		return "none"
	case DigestADLER32:
		return "ADLER32"
	case DigestCRC32:
		return "CRC32"
	default:
		return "unknown"
	}
}

// ParseDigestKind maps a negotiated option value to a DigestKind.
func ParseDigestKind(name string) (DigestKind, error) {
	switch name {
	case "", "none":
		return DigestNone, nil
	case "ADLER32":
		return DigestADLER32, nil
	case "CRC32":
		return DigestCRC32, nil
	default:
		return 0, fmt.Errorf("wire: unknown digest %q", name)
	}
}

// Digest computes the checksum of data under kind. Returns 0, nil for
// DigestNone so callers can skip emitting a trailer.
func Digest(kind DigestKind, data []byte) (uint32, error) {
	switch kind {
	case DigestNone:
		return 0, nil
	case DigestADLER32:
		return adler32.Checksum(data), nil
	case DigestCRC32:
		return crc32.ChecksumIEEE(data), nil
	default:
		return 0, fmt.Errorf("wire: unknown digest kind %d", kind)
	}
}

// CompressionKind selects the payload compression algorithm.
type CompressionKind uint8

const (
	CompressionNone CompressionKind = iota
	CompressionDeflate
	CompressionGZIP
	CompressionLZ4
)

func (k CompressionKind) String() string {
	switch k {
	case CompressionNone:
		return "none"
	case CompressionDeflate:
		return "DEFLATE"
	case CompressionGZIP:
		return "GZIP"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "unknown"
	}
}

// ParseCompressionKind maps a negotiated option value to a
// CompressionKind.
func ParseCompressionKind(name string) (CompressionKind, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "DEFLATE":
		return CompressionDeflate, nil
	case "GZIP":
		return CompressionGZIP, nil
	case "LZ4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("wire: unknown compression %q", name)
	}
}

// Compress encodes data under kind. For CompressionNone it returns data
// unchanged (no copy).
func Compress(kind CompressionKind, data []byte) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return data, nil
	case CompressionDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionGZIP:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		return compressLZ4(data)
	default:
		return nil, fmt.Errorf("wire: unknown compression kind %d", kind)
	}
}

// Decompress reverses Compress.
func Decompress(kind CompressionKind, data []byte) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return data, nil
	case CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	case CompressionGZIP:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionLZ4:
		return decompressLZ4(data)
	default:
		return nil, fmt.Errorf("wire: unknown compression kind %d", kind)
	}
}

// compressLZ4 produces one LZ4-block chunk wrapped as
// [u32 uncompressed_len][u32 compressed_len][bytes], per the wire format's
// LZ4 framing rule. The compressed bytes are an LZ4 block, not the LZ4
// frame format, matching the chunk's explicit length prefixes.
func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	compressed := make([]byte, bound)
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(data, compressed)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4 compress: %w", err)
	}
	// Incompressible input: CompressBlock returns n == 0. Store the block
	// uncompressed with compressed_len == uncompressed_len so the decoder
	// can distinguish it from a shrunk block.
	if n == 0 {
		compressed = data
		n = len(data)
	} else {
		compressed = compressed[:n]
	}

	out := make([]byte, 8+len(compressed))
	bigEndian.PutUint32(out[0:4], uint32(len(data)))
	bigEndian.PutUint32(out[4:8], uint32(n))
	copy(out[8:], compressed)
	return out, nil
}

func decompressLZ4(chunk []byte) ([]byte, error) {
	if len(chunk) < 8 {
		return nil, fmt.Errorf("wire: lz4 chunk shorter than header")
	}
	uncompressedLen := bigEndian.Uint32(chunk[0:4])
	compressedLen := bigEndian.Uint32(chunk[4:8])
	body := chunk[8:]
	if uint32(len(body)) != compressedLen {
		return nil, fmt.Errorf("wire: lz4 chunk length mismatch: header says %d, got %d", compressedLen, len(body))
	}
	if compressedLen == uncompressedLen {
		// Stored block (see compressLZ4): no LZ4 decode needed.
		out := make([]byte, uncompressedLen)
		copy(out, body)
		return out, nil
	}
	out := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4 decompress: %w", err)
	}
	return out[:n], nil
}
