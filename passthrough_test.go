package jpegxl

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"testing"
)

func encodeTestJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// spliceSegment inserts a marker segment right after the SOI marker.
func spliceSegment(jpg []byte, marker byte, payload []byte) []byte {
	seg := make([]byte, 0, 4+len(payload))
	seg = append(seg, 0xFF, marker)
	seg = append(seg, byte((len(payload)+2)>>8), byte(len(payload)+2))
	seg = append(seg, payload...)
	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

func TestPassthroughDropsAPP1KeepsAPP0AndCOM(t *testing.T) {
	base := encodeTestJPEG(t)
	withApp1 := spliceSegment(base, 0xE1, append([]byte("Exif\x00\x00"), bytes.Repeat([]byte{1}, 30)...))
	withBoth := spliceSegment(withApp1, 0xFE, []byte("a comment"))
	withAll := spliceSegment(withBoth, 0xE0, []byte("JFIF\x00"))

	filtered := prepareJPEGPassthrough(withAll)
	if filtered == nil {
		t.Fatal("filter refused a valid stream")
	}
	if bytes.Contains(filtered, []byte("Exif\x00\x00")) {
		t.Error("APP1 survived the filter")
	}
	if !bytes.Contains(filtered, []byte("a comment")) {
		t.Error("COM was dropped")
	}
	if !bytes.Contains(filtered, []byte("JFIF\x00")) {
		t.Error("APP0 was dropped")
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(filtered)); err != nil {
		t.Errorf("filtered stream is not a valid JPEG: %v", err)
	}
}

func TestPassthroughPlainStreamIsUnchanged(t *testing.T) {
	base := encodeTestJPEG(t)
	filtered := prepareJPEGPassthrough(base)
	if !bytes.Equal(filtered, base) {
		t.Error("stream without application segments was altered")
	}
}

func TestPassthroughRejectsGarbage(t *testing.T) {
	if prepareJPEGPassthrough([]byte("definitely not a JPEG")) != nil {
		t.Error("garbage accepted")
	}
}

func TestStripTrailingMaskTail(t *testing.T) {
	base := encodeTestJPEG(t)

	// Append a fake mask blob plus a length footer pointing at the EOI.
	withTail := append([]byte{}, base...)
	withTail = append(withTail, bytes.Repeat([]byte{0x5A}, 50)...)
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], uint32(len(base)))
	withTail = append(withTail, footer[:]...)

	if got := stripTrailingMaskTail(withTail); !bytes.Equal(got, base) {
		t.Error("mask tail not stripped")
	}
	if got := stripTrailingMaskTail(base); !bytes.Equal(got, base) {
		t.Error("clean stream was modified")
	}
}
