package jpegxl

import (
	"encoding/binary"
	"testing"

	"github.com/zachsussman/jpegxl/internal/codec"
)

func TestRescaleByteInverse(t *testing.T) {
	pool := codec.NewPool(1)
	for bits := 1; bits <= 7; bits++ {
		maxVal := 1<<bits - 1
		buf := make([]byte, maxVal+1)
		for v := 0; v <= maxVal; v++ {
			buf[v] = byte(v)
		}
		rescaleUp(buf, TypeByte, bits, pool)
		rescaleDown(buf, TypeByte, bits, pool)
		for v := 0; v <= maxVal; v++ {
			if buf[v] != byte(v) {
				t.Fatalf("bits=%d: %d came back as %d", bits, v, buf[v])
			}
		}
	}
}

func TestRescaleUInt16Inverse(t *testing.T) {
	pool := codec.NewPool(4)
	const bits = 12
	maxVal := 1<<bits - 1
	buf := make([]byte, (maxVal+1)*2)
	for v := 0; v <= maxVal; v++ {
		binary.LittleEndian.PutUint16(buf[v*2:], uint16(v))
	}
	rescaleUp(buf, TypeUInt16, bits, pool)
	rescaleDown(buf, TypeUInt16, bits, pool)
	for v := 0; v <= maxVal; v++ {
		if got := binary.LittleEndian.Uint16(buf[v*2:]); got != uint16(v) {
			t.Fatalf("%d came back as %d", v, got)
		}
	}
}

func TestRescaleUpReachesFullRange(t *testing.T) {
	pool := codec.NewPool(1)
	buf := []byte{0x0F} // the 4-bit maximum
	rescaleUp(buf, TypeByte, 4, pool)
	if buf[0] != 0xFF {
		t.Errorf("4-bit max scaled to %d, want 255", buf[0])
	}
}

func TestRescaleUpClampsOutOfRange(t *testing.T) {
	pool := codec.NewPool(1)
	buf := []byte{0x20} // past the 4-bit maximum
	rescaleUp(buf, TypeByte, 4, pool)
	if buf[0] != 0xFF {
		t.Errorf("out of range sample scaled to %d, want 255", buf[0])
	}
}

func TestNeedsRescale(t *testing.T) {
	if needsRescale(TypeByte, 8) || needsRescale(TypeUInt16, 16) || needsRescale(TypeFloat32, 32) {
		t.Error("full-depth types flagged for rescale")
	}
	if !needsRescale(TypeByte, 4) || !needsRescale(TypeUInt16, 12) {
		t.Error("narrow depths not flagged")
	}
}
