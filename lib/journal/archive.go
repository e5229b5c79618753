// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// archiveSuffix is appended to a journal's name when it is archived.
const archiveSuffix = ".z"

// Codec identifies the compression algorithm of an archived journal.
// Values are stored in the container header (1 byte) and are format
// constants.
type Codec uint8

const (
	// CodecRaw stores the journal uncompressed. Chosen by the probe
	// when compression does not reduce the size.
	CodecRaw Codec = 0

	// CodecZstd is the default: journals are CBOR text and numbers,
	// which zstd shrinks well.
	CodecZstd Codec = 1

	// CodecLZ4 trades ratio for speed.
	CodecLZ4 Codec = 2
)

func (codec Codec) String() string {
	switch codec {
	case CodecRaw:
		return "raw"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(codec))
	}
}

// ParseCodec parses a codec from its string name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "raw":
		return CodecRaw, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("journal: unknown codec %q", name)
	}
}

// zstdEncoder and zstdDecoder are shared across calls. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("journal: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("journal: zstd decoder initialization failed: " + err.Error())
	}
}

// Archive compresses a finished journal into a tagged container,
// writes it next to the original with the ".z" suffix, and removes the
// original. Pass CodecZstd unless speed matters more than size. When
// the codec does not shrink the payload the container stores it raw.
// Returns the archive path.
func Archive(path string, codec Codec) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("journal: reading journal for archive: %w", err)
	}

	container, err := encodeContainer(data, codec)
	if err != nil {
		return "", err
	}

	archivePath := path + archiveSuffix
	temporaryPath := archivePath + ".tmp"
	if err := os.WriteFile(temporaryPath, container, 0o600); err != nil {
		return "", fmt.Errorf("journal: writing archive: %w", err)
	}
	if err := os.Rename(temporaryPath, archivePath); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("journal: renaming archive into place: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("journal: removing archived journal: %w", err)
	}
	return archivePath, nil
}

// encodeContainer builds the tagged container: codec tag, uvarint
// uncompressed size, payload. Falls back to CodecRaw when the
// compressed payload is not smaller than the input.
func encodeContainer(data []byte, codec Codec) ([]byte, error) {
	payload, used, err := compress(data, codec)
	if err != nil {
		return nil, err
	}
	container := make([]byte, 0, len(payload)+binary.MaxVarintLen64+1)
	container = append(container, byte(used))
	container = binary.AppendUvarint(container, uint64(len(data)))
	container = append(container, payload...)
	return container, nil
}

// decodeContainer unpacks a tagged container and verifies the
// uncompressed size.
func decodeContainer(container []byte) ([]byte, error) {
	if len(container) < 2 {
		return nil, fmt.Errorf("container too short (%d bytes)", len(container))
	}
	codec := Codec(container[0])
	size, prefixSize := binary.Uvarint(container[1:])
	if prefixSize <= 0 {
		return nil, fmt.Errorf("container has a malformed size prefix")
	}
	payload := container[1+prefixSize:]

	switch codec {
	case CodecRaw:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("raw payload is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil

	case CodecZstd:
		data, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(data)) != size {
			return nil, fmt.Errorf("zstd payload decompressed to %d bytes, header says %d", len(data), size)
		}
		return data, nil

	case CodecLZ4:
		data := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, data)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 payload decompressed to %d bytes, header says %d", read, size)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unknown codec tag %d", container[0])
	}
}

// compress applies the requested codec, downgrading to CodecRaw when
// the output would not shrink.
func compress(data []byte, codec Codec) ([]byte, Codec, error) {
	switch codec {
	case CodecRaw:
		return data, CodecRaw, nil

	case CodecZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CodecRaw, nil
		}
		return compressed, CodecZstd, nil

	case CodecLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("journal: lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return data, CodecRaw, nil
		}
		return destination[:written], CodecLZ4, nil

	default:
		return nil, 0, fmt.Errorf("journal: unsupported codec %d", uint8(codec))
	}
}
