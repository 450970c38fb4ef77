package jpegxl

import (
	"bytes"
	"fmt"
	"io"

	jseg "github.com/garyhouston/jpegsegs"

	"github.com/zachsussman/jpegxl/internal/codec"
	"github.com/zachsussman/jpegxl/internal/exifbox"
)

// jpegChunkInitial is the starting reconstruction buffer size; it doubles
// on demand.
const jpegChunkInitial = 16 * 1024

var (
	exifAPP1Header = []byte("Exif\x00\x00")
	xmpAPP1Header  = []byte("http://ns.adobe.com/xap/1.0/\x00")
)

// maxAPP1Payload is the largest segment body a JPEG marker can carry.
const maxAPP1Payload = 65535 - 2

// JPEGCodestream reproduces the original JPEG byte stream the file was
// transcoded from. With withMetadata, EXIF and XMP carried in the
// container's boxes are re-injected as APP1 segments when the stream does
// not already have them.
func (r *Reader) JPEGCodestream(withMetadata bool) ([]byte, error) {
	if !r.hasJBRD {
		return nil, fmt.Errorf("%w: stream has no JPEG reconstruction data", ErrProtocol)
	}
	data, err := r.runReconstructionPass()
	if err != nil {
		return nil, err
	}
	if withMetadata && (r.exif != nil || r.xmp != nil) {
		var tiffBody []byte
		if r.exif != nil {
			tiffBody = exifbox.TIFFBody(r.exif)
		}
		data = injectAPP1(data, tiffBody, r.xmp)
	}
	return data, nil
}

func (r *Reader) runReconstructionPass() ([]byte, error) {
	if err := r.src.SeekStart(); err != nil {
		return nil, err
	}
	d := codec.NewDecoder()
	d.SetWorkerPool(r.pool)
	d.SubscribeEvents(codec.WantJPEGReconstruction | codec.WantFullImage)

	in := make([]byte, inputChunkSize)
	var out []byte
	for {
		switch ev := d.ProcessInput(); ev {
		case codec.EventNeedMoreInput:
			n, err := r.src.Read(in)
			if n > 0 {
				if serr := d.SetInput(in[:n]); serr != nil {
					return nil, serr
				}
				continue
			}
			if err != nil && err != io.EOF {
				return nil, err
			}
			return nil, fmt.Errorf("%w: decoder expected more input", ErrTruncated)
		case codec.EventJPEGReconstruction:
			out = make([]byte, jpegChunkInitial)
			if err := d.SetJPEGBuffer(out); err != nil {
				return nil, err
			}
		case codec.EventJPEGNeedMoreOutput:
			used := len(out) - d.ReleaseJPEGBuffer()
			grown := make([]byte, len(out)*2)
			copy(grown, out[:used])
			out = grown
			if err := d.SetJPEGBuffer(out[used:]); err != nil {
				return nil, err
			}
		case codec.EventFullImage, codec.EventSuccess:
			if out == nil {
				return nil, fmt.Errorf("%w: no reconstruction delivered", ErrProtocol)
			}
			return out[:len(out)-d.ReleaseJPEGBuffer()], nil
		case codec.EventError:
			return nil, fmt.Errorf("%w: %v", ErrProtocol, d.Err())
		}
	}
}

// injectAPP1 inserts EXIF and XMP APP1 segments after the leading APP0 run
// when the stream carries neither. Any inconsistency leaves the stream
// untouched.
func injectAPP1(jpg, exifTIFF, xmp []byte) []byte {
	rd := bytes.NewReader(jpg)
	scanner, err := jseg.NewScanner(rd)
	if err != nil {
		return jpg
	}
	var segs []jseg.Segment
	var tail []byte
	for {
		marker, buf, err := scanner.Scan()
		if err != nil {
			return jpg
		}
		if marker == jseg.COM || (marker >= jseg.APP0 && marker <= jseg.APP0+0x0F) {
			cp := make([]byte, len(buf))
			copy(cp, buf)
			segs = append(segs, jseg.Segment{Marker: marker, Data: cp})
			continue
		}
		consumed := len(jpg) - rd.Len()
		start := consumed - len(buf) - 4
		if start < 0 || start >= len(jpg) {
			return jpg
		}
		tail = jpg[start:]
		break
	}

	hasExif, hasXMP := false, false
	insertAt := 0
	for i, s := range segs {
		if s.Marker == jseg.APP0 && i == insertAt {
			insertAt = i + 1
		}
		if s.Marker == jseg.APP0+1 {
			if bytes.HasPrefix(s.Data, exifAPP1Header) {
				hasExif = true
			}
			if bytes.HasPrefix(s.Data, xmpAPP1Header) {
				hasXMP = true
			}
		}
	}

	var inject []jseg.Segment
	if exifTIFF != nil && !hasExif {
		payload := append(append([]byte{}, exifAPP1Header...), exifTIFF...)
		if len(payload) <= maxAPP1Payload {
			inject = append(inject, jseg.Segment{Marker: jseg.APP0 + 1, Data: payload})
		} else {
			logger.Warn("EXIF too large for a JPEG marker, not re-injected")
		}
	}
	if xmp != nil && !hasXMP {
		payload := append(append([]byte{}, xmpAPP1Header...), xmp...)
		if len(payload) <= maxAPP1Payload {
			inject = append(inject, jseg.Segment{Marker: jseg.APP0 + 1, Data: payload})
		} else {
			logger.Warn("XMP too large for a JPEG marker, not re-injected")
		}
	}
	if len(inject) == 0 {
		return jpg
	}

	var out bytes.Buffer
	dumper, err := jseg.NewDumper(&out)
	if err != nil {
		return jpg
	}
	write := func(s jseg.Segment) bool {
		return dumper.Dump(s.Marker, s.Data) == nil
	}
	for i, s := range segs {
		if i == insertAt {
			for _, ins := range inject {
				if !write(ins) {
					return jpg
				}
			}
		}
		if !write(s) {
			return jpg
		}
	}
	if insertAt == len(segs) {
		for _, ins := range inject {
			if !write(ins) {
				return jpg
			}
		}
	}
	out.Write(tail)
	return out.Bytes()
}
