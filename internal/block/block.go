// Package block implements a length-prefixed compressed block codec.
//
// Snapshot sections and change-log payloads are framed as blocks:
//
//	[UncompressedSize uint32][CompressedSize uint32][Data...]
//
// CompressedSize == 0 marks an uncompressed block; incompressible data is
// stored raw rather than inflated by a codec that cannot help.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm used for block payloads.
type Compression uint8

const (
	// None stores blocks uncompressed.
	None Compression = 0
	// LZ4 uses LZ4 block compression (fastest, modest ratio).
	LZ4 Compression = 1
	// ZSTD uses zstd block compression (better ratio, still fast).
	ZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

const headerSize = 8

// ErrMalformed is returned when a block header or payload is inconsistent.
var ErrMalformed = errors.New("malformed block")

// Encoder/decoder pools: zstd contexts are expensive to create and safe to
// reuse via EncodeAll/DecodeAll.
var (
	zstdEncoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	zstdDecoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
)

// Compress frames data as a block using the requested compression. If the
// compressed form saves less than 10% it falls back to storing raw bytes.
func Compress(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	var err error

	switch c {
	case None:
	case LZ4:
		compressed, err = compressLZ4(data)
	case ZSTD:
		compressed = compressZSTD(data)
	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		return frame(data, 0), nil
	}
	return frame(compressed, uint32(len(data))), nil
}

// Decompress unframes a block produced by Compress.
func Decompress(data []byte, c Compression) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformed, len(data), headerSize)
	}
	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	payload := data[headerSize:]

	if compressedSize == 0 {
		if uint32(len(payload)) != uncompressedSize {
			return nil, fmt.Errorf("%w: raw payload is %d bytes, header says %d", ErrMalformed, len(payload), uncompressedSize)
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}

	if uint32(len(payload)) != compressedSize {
		return nil, fmt.Errorf("%w: compressed payload is %d bytes, header says %d", ErrMalformed, len(payload), compressedSize)
	}

	var out []byte
	var err error
	switch c {
	case LZ4:
		out = make([]byte, uncompressedSize)
		var n int
		n, err = lz4.UncompressBlock(payload, out)
		if err == nil && uint32(n) != uncompressedSize {
			err = fmt.Errorf("%w: lz4 expanded to %d bytes, want %d", ErrMalformed, n, uncompressedSize)
		}
	case ZSTD:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		out, err = dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		zstdDecoderPool.Put(dec)
		if err == nil && uint32(len(out)) != uncompressedSize {
			err = fmt.Errorf("%w: zstd expanded to %d bytes, want %d", ErrMalformed, len(out), uncompressedSize)
		}
	default:
		err = fmt.Errorf("%w: compressed block but compression is %v", ErrMalformed, c)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// frame prepends the block header. uncompressed == 0 marks a raw block.
func frame(payload []byte, uncompressed uint32) []byte {
	out := make([]byte, headerSize+len(payload))
	if uncompressed == 0 {
		binary.LittleEndian.PutUint32(out[0:], uint32(len(payload)))
		binary.LittleEndian.PutUint32(out[4:], 0)
	} else {
		binary.LittleEndian.PutUint32(out[0:], uncompressed)
		binary.LittleEndian.PutUint32(out[4:], uint32(len(payload)))
	}
	copy(out[headerSize:], payload)
	return out
}

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

func compressZSTD(data []byte) []byte {
	enc := zstdEncoderPool.Get().(*zstd.Encoder)
	out := enc.EncodeAll(data, nil)
	zstdEncoderPool.Put(enc)
	return out
}
