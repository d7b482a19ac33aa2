package netp2p

import (
	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(8<<20))
)

// compressSegment zstd-compresses a segment-response payload. Segment
// responses dominate sync bandwidth (spec §4.9), unlike headers/blocks
// which are already compact, so only this path is compressed.
func compressSegment(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// decompressSegment reverses compressSegment, tolerating uncompressed
// input (no zstd magic bytes) for forward compatibility.
func decompressSegment(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}
