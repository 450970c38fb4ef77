// Package exifbox validates and translates the EXIF metadata box payload.
//
// The payload carried in an "Exif" box is a four byte offset field followed
// by a raw TIFF stream. Some producers prepend the six byte "Exif\x00\x00"
// APP1 header to the TIFF stream; the builders here strip it.
package exifbox

import (
	"bytes"
	"fmt"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// app1Header is the marker segment prefix some sources keep in front of the
// TIFF stream.
var app1Header = []byte("Exif\x00\x00")

// Valid reports whether payload looks like a well formed EXIF box payload:
// long enough to hold a TIFF header, a zeroed offset field, and a TIFF byte
// order mark right after it. Payloads with a nonzero offset field are
// rejected rather than followed.
func Valid(payload []byte) bool {
	if len(payload) <= 12 {
		return false
	}
	if payload[0] != 0 || payload[1] != 0 || payload[2] != 0 || payload[3] != 0 {
		return false
	}
	return payload[4] == 'I' || payload[4] == 'M'
}

// TIFFBody returns the raw TIFF stream inside a payload accepted by Valid.
func TIFFBody(payload []byte) []byte {
	return payload[4:]
}

// Payload builds an EXIF box payload from a TIFF stream. A leading APP1
// "Exif\x00\x00" header is stripped first.
func Payload(tiffStream []byte) []byte {
	tiffStream = bytes.TrimPrefix(tiffStream, app1Header)
	out := make([]byte, 4, 4+len(tiffStream))
	return append(out, tiffStream...)
}

type tagCollector struct {
	out map[string]string
}

func (c *tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.out["EXIF_"+string(name)] = tagValue(tag)
	return nil
}

func tagValue(tag *tiff.Tag) string {
	if tag.Format() == tiff.StringVal {
		s, err := tag.StringVal()
		if err == nil {
			return s
		}
	}
	return tag.String()
}

// Tags parses a raw TIFF stream and returns its EXIF fields as a flat
// key/value table, each key prefixed with "EXIF_".
func Tags(tiffStream []byte) (map[string]string, error) {
	x, err := exif.Decode(bytes.NewReader(tiffStream))
	if err != nil {
		return nil, fmt.Errorf("parse EXIF: %w", err)
	}
	c := &tagCollector{out: map[string]string{}}
	if err := x.Walk(c); err != nil {
		return nil, fmt.Errorf("walk EXIF: %w", err)
	}
	return c.out, nil
}
