package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Container layout:
//
//	signature box (12 bytes) | "ftyp" box | metadata boxes | "jxlc" box
//
// Every box is a big-endian uint32 total length (header included) followed
// by a 4-byte type. Length 0 means the box extends to end of stream. A
// "brob" box wraps another box type: its payload is the inner 4-byte type
// followed by the zstd-compressed inner payload.
//
// Codestream layout (bare, or inside "jxlc"):
//
//	ff 0a | version u8 | xsize u32le | ysize u32le
//	bits u8 | expbits u8 | ncolor u8 | nextra u8
//	alphabits u8 | alphaexp u8 | origprofile u8 | level u8
//	nextra * { type u8 | bits u8 | expbits u8 | namelen u16le | name }
//	color block: kind u8 (0 encoded, 1 ICC)
//	  encoded: space u8 | wp u8 | wx f64le | wy f64le | prim u8 | 6*f64le |
//	           tf u8 | gamma f64le | intent u8
//	  ICC:     len u32le | bytes
//	frame: kind u8 (0 pixels, 1 JPEG) | distance f32le | effort u8 |
//	       mainchannels u8 | nstandalone u8 | sections
//	each section: complen u32le | zstd bytes
var (
	// ContainerSignature is the 12-byte boxed-file signature.
	ContainerSignature = []byte{0x00, 0x00, 0x00, 0x0C, 'J', 'X', 'L', ' ', 0x0D, 0x0A, 0x87, 0x0A}

	// CodestreamMarker opens a bare codestream.
	CodestreamMarker = []byte{0xFF, 0x0A}
)

const (
	codestreamVersion = 1

	boxHeaderSize = 8

	boxTypeSignature  = "JXL "
	boxTypeFileType   = "ftyp"
	boxTypeCodestream = "jxlc"
	boxTypeCompressed = "brob"

	frameKindPixels = 0
	frameKindJPEG   = 1

	colorKindEncoded = 0
	colorKindICC     = 1
)

var ftypPayload = []byte{'j', 'x', 'l', ' ', 0, 0, 0, 0, 'j', 'x', 'l', ' '}

// IdentifyCodestream probes a bare-codestream prefix: it needs the full
// fixed header and checks the marker, the version byte and that both
// dimensions are nonzero.
func IdentifyCodestream(prefix []byte) bool {
	if len(prefix) < fixedHeaderSize {
		return false
	}
	if prefix[0] != CodestreamMarker[0] || prefix[1] != CodestreamMarker[1] {
		return false
	}
	if prefix[2] != codestreamVersion {
		return false
	}
	x := binary.LittleEndian.Uint32(prefix[3:])
	y := binary.LittleEndian.Uint32(prefix[7:])
	return x != 0 && y != 0
}

var (
	zstdOnce    sync.Once
	zstdReader  *zstd.Decoder
	zstdWriters map[zstd.EncoderLevel]*zstd.Encoder
)

func initZstd() {
	zstdReader, _ = zstd.NewReader(nil)
	zstdWriters = make(map[zstd.EncoderLevel]*zstd.Encoder)
	for _, lvl := range []zstd.EncoderLevel{
		zstd.SpeedFastest, zstd.SpeedDefault,
		zstd.SpeedBetterCompression, zstd.SpeedBestCompression,
	} {
		w, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
		zstdWriters[lvl] = w
	}
}

// effortLevel maps the 1-9 encoder effort knob onto a zstd level.
func effortLevel(effort int) zstd.EncoderLevel {
	switch {
	case effort <= 3:
		return zstd.SpeedFastest
	case effort <= 6:
		return zstd.SpeedDefault
	case effort <= 8:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func compress(b []byte, effort int) []byte {
	zstdOnce.Do(initZstd)
	return zstdWriters[effortLevel(effort)].EncodeAll(b, nil)
}

func decompress(b []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	out, err := zstdReader.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupt compressed section: %w", err)
	}
	return out, nil
}

func putBoxHeader(dst []byte, boxType string, total uint32) {
	binary.BigEndian.PutUint32(dst, total)
	copy(dst[4:], boxType)
}

// appendBox appends a complete box. total length 0 is written for toEOF.
func appendBox(dst []byte, boxType string, payload []byte, toEOF bool) []byte {
	var hdr [boxHeaderSize]byte
	if toEOF {
		putBoxHeader(hdr[:], boxType, 0)
	} else {
		putBoxHeader(hdr[:], boxType, uint32(boxHeaderSize+len(payload)))
	}
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}
