package jpegxl

import (
	"encoding/binary"

	"github.com/zachsussman/jpegxl/internal/codec"
)

// Samples travel full range on the wire. A stream whose declared depth is
// narrower than its sample type gets scaled down to [0, 2^bits-1] after
// decode, and scaled back up to full range before encode.

func needsRescale(t DataType, bits int) bool {
	switch t {
	case TypeByte:
		return bits < 8
	case TypeUInt16:
		return bits < 16
	}
	return false
}

// parallelChunks splits a sample buffer into per-worker spans and runs fn
// over each. Spans are aligned to whole samples.
func parallelChunks(buf []byte, sampleSize int, pool *codec.Pool, fn func(span []byte)) {
	n := len(buf) / sampleSize
	workers := pool.Threads()
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	per := (n + workers - 1) / workers
	pool.Run(workers, func(i int) {
		lo := i * per
		hi := lo + per
		if hi > n {
			hi = n
		}
		if lo >= hi {
			return
		}
		fn(buf[lo*sampleSize : hi*sampleSize])
	})
}

// rescaleDown maps full-range samples onto [0, 2^bits-1] in place.
func rescaleDown(buf []byte, t DataType, bits int, pool *codec.Pool) {
	switch t {
	case TypeByte:
		maxVal := uint32(1)<<bits - 1
		parallelChunks(buf, 1, pool, func(span []byte) {
			for i, v := range span {
				span[i] = byte((uint32(v)*maxVal + 127) / 255)
			}
		})
	case TypeUInt16:
		maxVal := uint32(1)<<bits - 1
		parallelChunks(buf, 2, pool, func(span []byte) {
			for i := 0; i+1 < len(span); i += 2 {
				v := uint32(binary.LittleEndian.Uint16(span[i:]))
				binary.LittleEndian.PutUint16(span[i:], uint16((v*maxVal+32767)/65535))
			}
		})
	}
}

// rescaleUp maps [0, 2^bits-1] samples back to full range in place. Out of
// range input clamps to the nominal maximum first.
func rescaleUp(buf []byte, t DataType, bits int, pool *codec.Pool) {
	switch t {
	case TypeByte:
		maxVal := uint32(1)<<bits - 1
		parallelChunks(buf, 1, pool, func(span []byte) {
			for i, v := range span {
				s := uint32(v)
				if s > maxVal {
					s = maxVal
				}
				span[i] = byte((s*255 + maxVal/2) / maxVal)
			}
		})
	case TypeUInt16:
		maxVal := uint32(1)<<bits - 1
		parallelChunks(buf, 2, pool, func(span []byte) {
			for i := 0; i+1 < len(span); i += 2 {
				s := uint32(binary.LittleEndian.Uint16(span[i:]))
				if s > maxVal {
					s = maxVal
				}
				binary.LittleEndian.PutUint16(span[i:], uint16((s*65535+maxVal/2)/maxVal))
			}
		})
	}
}
