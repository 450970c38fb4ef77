package jpegxl

import (
	"testing"

	"github.com/zachsussman/jpegxl/internal/codec"
)

func TestDefaultColorSuppressed(t *testing.T) {
	if !isDefaultColor(codec.SRGBEncoding(false), false) {
		t.Error("canonical sRGB not recognized as default")
	}
	if !isDefaultColor(codec.SRGBEncoding(true), true) {
		t.Error("canonical gray sRGB not recognized as default")
	}
}

func TestNonDefaultColorDetected(t *testing.T) {
	enc := codec.SRGBEncoding(false)
	enc.TransferFunction = codec.TransferPQ
	if isDefaultColor(enc, false) {
		t.Error("PQ transfer treated as default")
	}

	enc = codec.SRGBEncoding(false)
	enc.Primaries = codec.Primaries2100
	if isDefaultColor(enc, false) {
		t.Error("BT.2100 primaries treated as default")
	}
}

func TestGraySkipsPrimaries(t *testing.T) {
	enc := codec.SRGBEncoding(true)
	// Gray streams carry no meaningful primaries; a producer writing
	// arbitrary values there must not defeat default detection.
	enc.Primaries = codec.PrimariesCustom
	enc.PrimaryRedXY = codec.CIExy{X: 0.1, Y: 0.2}
	if !isDefaultColor(enc, true) {
		t.Error("gray default rejected because of primaries")
	}
}

func TestGeoJUMBFRoundTrip(t *testing.T) {
	payload := []byte("geotiff bytes here")
	jumb := geoJUMBFPayload(payload)
	got := geoTIFFFromJUMBF(jumb)
	if string(got) != string(payload) {
		t.Errorf("JUMBF round-trip = %q", got)
	}
	if geoTIFFFromJUMBF([]byte("junk")) != nil {
		t.Error("garbage JUMBF yielded a payload")
	}
}
