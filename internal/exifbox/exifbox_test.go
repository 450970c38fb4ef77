package exifbox

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// tinyTIFF builds a minimal little-endian TIFF stream with a single IFD0
// ASCII tag: Model = "Go1".
func tinyTIFF() []byte {
	var b bytes.Buffer
	b.WriteString("II")
	binary.Write(&b, binary.LittleEndian, uint16(42))
	binary.Write(&b, binary.LittleEndian, uint32(8)) // IFD0 offset
	binary.Write(&b, binary.LittleEndian, uint16(1)) // entry count
	binary.Write(&b, binary.LittleEndian, uint16(0x0110))
	binary.Write(&b, binary.LittleEndian, uint16(2)) // ASCII
	binary.Write(&b, binary.LittleEndian, uint32(4))
	b.WriteString("Go1\x00")
	binary.Write(&b, binary.LittleEndian, uint32(0)) // no next IFD
	return b.Bytes()
}

func TestValid(t *testing.T) {
	good := Payload(tinyTIFF())
	if !Valid(good) {
		t.Fatal("well formed payload rejected")
	}
	if Valid(nil) {
		t.Error("nil accepted")
	}
	if Valid(make([]byte, 12)) {
		t.Error("too-short payload accepted")
	}
	bad := append([]byte{}, good...)
	bad[2] = 1
	if Valid(bad) {
		t.Error("nonzero offset field accepted")
	}
	bad = append([]byte{}, good...)
	bad[4] = 'X'
	if Valid(bad) {
		t.Error("missing byte order mark accepted")
	}
}

func TestPayloadStripsAPP1Header(t *testing.T) {
	tif := tinyTIFF()
	withHeader := append([]byte("Exif\x00\x00"), tif...)
	p := Payload(withHeader)
	if !Valid(p) {
		t.Fatal("payload with stripped header rejected")
	}
	if !bytes.Equal(TIFFBody(p), tif) {
		t.Error("TIFF body does not round-trip")
	}
}

func TestTags(t *testing.T) {
	tags, err := Tags(tinyTIFF())
	if err != nil {
		t.Fatal(err)
	}
	if got := tags["EXIF_Model"]; got != "Go1" {
		t.Errorf("EXIF_Model = %q, want %q", got, "Go1")
	}
}

func TestTagsRejectsGarbage(t *testing.T) {
	if _, err := Tags([]byte("not a tiff stream")); err == nil {
		t.Error("garbage accepted")
	}
}
