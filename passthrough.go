package jpegxl

import (
	"bytes"
	"encoding/binary"

	jseg "github.com/garyhouston/jpegsegs"
)

// stripTrailingMaskTail removes an appended mask blob some producers leave
// after the JPEG end marker: a payload followed by a 4-byte little-endian
// offset that points just past the FF D9 marker.
func stripTrailingMaskTail(data []byte) []byte {
	if len(data) < 8 {
		return data
	}
	n := binary.LittleEndian.Uint32(data[len(data)-4:])
	size := uint32(len(data))
	if n > 2 && n >= size/2 && n <= size-4 &&
		data[n-2] == 0xFF && data[n-1] == 0xD9 {
		return data[:n]
	}
	return data
}

// prepareJPEGPassthrough filters an original JPEG stream for lossless
// embedding: APP0 and COM segments are kept, APP1 through APP15 are
// dropped, and everything from the first structural marker on is copied
// verbatim. A nil return means the stream could not be filtered and the
// caller should fall back to pixel encoding.
func prepareJPEGPassthrough(data []byte) []byte {
	data = stripTrailingMaskTail(data)
	r := bytes.NewReader(data)
	scanner, err := jseg.NewScanner(r)
	if err != nil {
		return nil
	}
	var out bytes.Buffer
	dumper, err := jseg.NewDumper(&out)
	if err != nil {
		return nil
	}
	for {
		marker, buf, err := scanner.Scan()
		if err != nil {
			return nil
		}
		if marker == jseg.APP0 || marker == jseg.COM {
			if err := dumper.Dump(marker, buf); err != nil {
				return nil
			}
			continue
		}
		if marker > jseg.APP0 && marker <= jseg.APP0+0x0F {
			continue
		}
		// First structural marker: copy the remainder of the stream
		// verbatim, starting at the marker itself.
		consumed := len(data) - r.Len()
		start := consumed - len(buf) - 4
		if start < 0 || start >= len(data) {
			return nil
		}
		if _, err := out.Write(data[start:]); err != nil {
			return nil
		}
		return out.Bytes()
	}
}
