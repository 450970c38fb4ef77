package jpegxl

import (
	"bytes"
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/zachsussman/jpegxl/internal/codec"
	"github.com/zachsussman/jpegxl/internal/exifbox"
)

var logger = logrus.WithField("component", "jpegxl")

// DefaultBoxSizeLimit is the ceiling on a single metadata box payload.
// Larger boxes are skipped with a warning rather than failing the open.
const DefaultBoxSizeLimit = 100_000_000

// boxGrowInitial is the starting buffer size for boxes whose declared size
// is unknown.
const boxGrowInitial = 1 << 20

var xmpPacketPrefix = []byte("<?xpacket")

// boxCapture accumulates the metadata boxes of interest during the
// metadata decode pass. Capture buffers grow by doubling when a box turns
// out larger than declared, up to the configured ceiling.
type boxCapture struct {
	limit uint64

	name string
	buf  []byte

	xmp     []byte
	exif    []byte
	jumb    []byte
	hasJBRD bool
}

// onBox handles an EventBox: the previous box is finalized and capture of
// the new one is set up when its type is wanted.
func (c *boxCapture) onBox(d *codec.Decoder) error {
	c.finish(d)
	name, err := d.BoxType(true)
	if err != nil {
		return err
	}
	if name == "jbrd" {
		c.hasJBRD = true
		return nil
	}
	if name != "xml " && name != "Exif" && name != "jumb" {
		return nil
	}
	raw, err := d.BoxSizeRaw()
	if err != nil {
		return err
	}
	if raw > c.limit {
		logger.Warnf("skipping box %q: %d bytes exceeds the %d byte ceiling", name, raw, c.limit)
		return nil
	}
	size := int(raw)
	if size == 0 {
		size = boxGrowInitial
	}
	c.name = name
	c.buf = make([]byte, size)
	return d.SetBoxBuffer(c.buf)
}

// onGrow handles an EventBoxNeedMoreOutput by doubling the capture buffer,
// abandoning the box when the ceiling is reached.
func (c *boxCapture) onGrow(d *codec.Decoder) error {
	if c.buf == nil {
		d.ReleaseBoxBuffer()
		return nil
	}
	used := len(c.buf) - d.ReleaseBoxBuffer()
	if uint64(len(c.buf))*2 > c.limit {
		logger.Warnf("abandoning box %q: grew past the %d byte ceiling", c.name, c.limit)
		c.buf = nil
		c.name = ""
		return nil
	}
	grown := make([]byte, len(c.buf)*2)
	copy(grown, c.buf[:used])
	c.buf = grown
	return d.SetBoxBuffer(c.buf[used:])
}

// finish closes out the current capture, if any, and files the payload.
func (c *boxCapture) finish(d *codec.Decoder) {
	if c.buf == nil {
		return
	}
	content := len(c.buf) - d.ReleaseBoxBuffer()
	payload := c.buf[:content]
	switch c.name {
	case "xml ":
		if c.xmp == nil && bytes.HasPrefix(payload, xmpPacketPrefix) {
			c.xmp = payload
		}
	case "Exif":
		if c.exif == nil {
			if exifbox.Valid(payload) {
				c.exif = payload
			} else {
				logger.Warn("ignoring malformed Exif box")
			}
		}
	case "jumb":
		// Last one wins, matching readers that honor the final
		// georeferencing box.
		c.jumb = payload
	}
	c.buf = nil
	c.name = ""
}

// JUMBF plumbing for the georeferencing box. The box is a "jumb" superbox
// holding a description box and a single UUID content box whose payload is
// a degenerate GeoTIFF.
var (
	jumbfTypeUUID = []byte{
		0x75, 0x75, 0x69, 0x64, 0x00, 0x11, 0x00, 0x10,
		0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
	}
	geoJP2UUID = []byte{
		0xB1, 0x4B, 0xF8, 0xBD, 0x08, 0x3D, 0x4B, 0x43,
		0xA5, 0xAE, 0x8C, 0xD7, 0xD5, 0xA6, 0xCE, 0x03,
	}
)

const jumbfLabel = "GeoJP2 box"

func appendChildBox(dst []byte, boxType string, payload []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(8+len(payload)))
	copy(hdr[4:], boxType)
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// geoJUMBFPayload wraps a GeoTIFF blob in the JUMBF structure carried by
// the "jumb" box.
func geoJUMBFPayload(geotiff []byte) []byte {
	descr := make([]byte, 0, 16+1+len(jumbfLabel)+1)
	descr = append(descr, jumbfTypeUUID...)
	descr = append(descr, 0x03) // requestable, label present
	descr = append(descr, jumbfLabel...)
	descr = append(descr, 0x00)

	content := make([]byte, 0, 16+len(geotiff))
	content = append(content, geoJP2UUID...)
	content = append(content, geotiff...)

	out := appendChildBox(nil, "jumd", descr)
	return appendChildBox(out, "uuid", content)
}

// geoTIFFFromJUMBF extracts the GeoTIFF blob back out of a "jumb" payload,
// or nil when none is present.
func geoTIFFFromJUMBF(jumb []byte) []byte {
	for len(jumb) >= 8 {
		total := binary.BigEndian.Uint32(jumb[:4])
		if total < 8 || uint32(len(jumb)) < total {
			return nil
		}
		boxType := string(jumb[4:8])
		payload := jumb[8:total]
		if boxType == "uuid" && len(payload) >= 16 && bytes.Equal(payload[:16], geoJP2UUID) {
			return payload[16:]
		}
		jumb = jumb[total:]
	}
	return nil
}
