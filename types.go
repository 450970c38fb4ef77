package jpegxl

import (
	"io"

	"github.com/zachsussman/jpegxl/internal/codec"
)

// DataType identifies the in-memory sample representation of a band.
type DataType int

const (
	// TypeByte is an unsigned 8-bit sample.
	TypeByte DataType = iota

	// TypeUInt16 is an unsigned 16-bit little-endian sample.
	TypeUInt16

	// TypeFloat32 is an IEEE-754 32-bit little-endian sample.
	TypeFloat32
)

// Size returns the number of bytes one sample occupies.
func (t DataType) Size() int {
	switch t {
	case TypeByte:
		return 1
	case TypeUInt16:
		return 2
	default:
		return 4
	}
}

func (t DataType) sampleType() codec.SampleType {
	switch t {
	case TypeByte:
		return codec.SampleUint8
	case TypeUInt16:
		return codec.SampleUint16
	default:
		return codec.SampleFloat32
	}
}

// ColorInterp describes the role of a band.
type ColorInterp int

const (
	InterpUndefined ColorInterp = iota
	InterpGray
	InterpRed
	InterpGreen
	InterpBlue
	InterpAlpha
)

func (c ColorInterp) String() string {
	switch c {
	case InterpGray:
		return "Gray"
	case InterpRed:
		return "Red"
	case InterpGreen:
		return "Green"
	case InterpBlue:
		return "Blue"
	case InterpAlpha:
		return "Alpha"
	default:
		return "Undefined"
	}
}

// BandInfo describes one raster band.
type BandInfo struct {
	DataType    DataType
	Interp      ColorInterp
	Description string
}

// ByteSource is the input abstraction for decoding: sequential reads plus
// the ability to restart from offset zero, which the two-pass decode model
// requires.
type ByteSource interface {
	io.Reader

	// SeekStart repositions the source at offset zero.
	SeekStart() error
}

type seekSource struct {
	rs io.ReadSeeker
}

func (s *seekSource) Read(p []byte) (int, error) { return s.rs.Read(p) }

func (s *seekSource) SeekStart() error {
	_, err := s.rs.Seek(0, io.SeekStart)
	return err
}

// NewByteSource adapts an io.ReadSeeker to a ByteSource.
func NewByteSource(rs io.ReadSeeker) ByteSource {
	return &seekSource{rs: rs}
}

// Source provides the pixel data and band layout Write consumes. Bands are
// read one at a time as packed little-endian planes.
type Source interface {
	Bounds() (width, height int)
	NumBands() int
	Band(i int) BandInfo

	// ReadBand fills dst with width*height samples of band i.
	ReadBand(i int, dst []byte) error
}

// MetadataSource is optionally implemented by a Source that carries
// metadata to be written as boxes.
type MetadataSource interface {
	// XMP returns the XMP packet, or nil.
	XMP() []byte

	// EXIFTIFF returns the EXIF payload as a raw TIFF stream, or nil.
	EXIFTIFF() []byte

	// GeoTIFF returns the degenerate GeoTIFF blob encoding the
	// georeferencing, or nil.
	GeoTIFF() []byte
}

// JPEGSource is optionally implemented by a Source backed by an original
// JPEG byte stream, enabling lossless transcoding with reconstruction.
type JPEGSource interface {
	// OriginalJPEG returns the source JPEG bytes, or nil.
	OriginalJPEG() []byte
}

// MemSource is an in-memory Source with optional metadata, mainly useful
// for tests and small tools.
type MemSource struct {
	Width, Height int
	DataType      DataType
	Planes        [][]byte
	Interps       []ColorInterp
	Descriptions  []string

	XMPData  []byte
	EXIFData []byte
	GeoData  []byte
	JPEGData []byte
}

func (m *MemSource) Bounds() (int, int) { return m.Width, m.Height }

func (m *MemSource) NumBands() int { return len(m.Planes) }

func (m *MemSource) Band(i int) BandInfo {
	info := BandInfo{DataType: m.DataType}
	if i < len(m.Interps) {
		info.Interp = m.Interps[i]
	}
	if i < len(m.Descriptions) {
		info.Description = m.Descriptions[i]
	}
	return info
}

func (m *MemSource) ReadBand(i int, dst []byte) error {
	copy(dst, m.Planes[i])
	return nil
}

func (m *MemSource) XMP() []byte { return m.XMPData }

func (m *MemSource) EXIFTIFF() []byte { return m.EXIFData }

func (m *MemSource) GeoTIFF() []byte { return m.GeoData }

func (m *MemSource) OriginalJPEG() []byte { return m.JPEGData }
