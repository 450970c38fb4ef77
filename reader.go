package jpegxl

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/zachsussman/jpegxl/internal/codec"
	"github.com/zachsussman/jpegxl/internal/exifbox"
)

// inputChunkSize is how much input the decode loops hand over per step.
const inputChunkSize = 1 << 20

// Identify reports whether prefix opens a JPEG XL stream, either the boxed
// container or a bare codestream. A bare prefix is probed against the full
// codestream header rather than the two marker bytes alone, so short
// prefixes are never identified.
func Identify(prefix []byte) bool {
	if len(prefix) >= len(codec.ContainerSignature) &&
		bytes.Equal(prefix[:len(codec.ContainerSignature)], codec.ContainerSignature) {
		return true
	}
	return codec.IdentifyCodestream(prefix)
}

// ReaderOptions tunes Open. The zero value selects the defaults.
type ReaderOptions struct {
	// BoxSizeLimit caps a single metadata box payload. Zero selects
	// DefaultBoxSizeLimit.
	BoxSizeLimit uint64

	// NumThreads caps the decode worker pool. Zero selects one worker
	// per 256x256 pixel group, up to the pool ceiling.
	NumThreads int
}

// Reader exposes one decoded JPEG XL stream as a band oriented raster.
// Pixel data is decoded on first access and cached; a failed pixel pass
// poisons the Reader so later accesses fail the same way without rework.
type Reader struct {
	src  ByteSource
	dec  *codec.Decoder
	pool *codec.Pool

	width, height uint32
	bits          int
	dataType      DataType
	usesOriginal  bool

	foldedAlpha bool
	mainCh      int
	nStandalone int
	bands       []BandInfo

	colorEnc *codec.ColorEncoding
	icc      []byte
	xmp      []byte
	exif     []byte
	jumb     []byte
	hasJBRD  bool

	metadata map[string]string

	decoded   bool
	decodeErr error
	main      []byte
	planes    [][]byte
}

// OpenBytes opens an in-memory stream.
func OpenBytes(data []byte, opts *ReaderOptions) (*Reader, error) {
	return Open(NewByteSource(bytes.NewReader(data)), opts)
}

// Open performs the metadata pass over src and returns a Reader. The
// source must remain usable for later pixel access.
func Open(src ByteSource, opts *ReaderOptions) (*Reader, error) {
	var o ReaderOptions
	if opts != nil {
		o = *opts
	}
	if o.BoxSizeLimit == 0 {
		o.BoxSizeLimit = DefaultBoxSizeLimit
	}

	r := &Reader{src: src, dec: codec.NewDecoder()}
	r.dec.SetDecompressBoxes(true)
	r.dec.SubscribeEvents(codec.WantBasicInfo | codec.WantBox | codec.WantColorEncoding)

	capture := &boxCapture{limit: o.BoxSizeLimit}
	buf := make([]byte, inputChunkSize)
	var info *codec.BasicInfo
	closedAtEOF := false

loop:
	for {
		switch ev := r.dec.ProcessInput(); ev {
		case codec.EventNeedMoreInput:
			if closedAtEOF {
				break loop
			}
			n, err := src.Read(buf)
			if n > 0 {
				if serr := r.dec.SetInput(buf[:n]); serr != nil {
					return nil, serr
				}
				continue
			}
			if err != nil && err != io.EOF {
				return nil, err
			}
			// Keep stepping after the close so a box that runs to end
			// of stream is still delivered.
			r.dec.CloseInput()
			closedAtEOF = true
		case codec.EventBasicInfo:
			bi, err := r.dec.BasicInfo()
			if err != nil {
				return nil, err
			}
			info = &bi
			r.pool = newPoolFor(bi.XSize, bi.YSize, o.NumThreads)
			r.dec.SetWorkerPool(r.pool)
		case codec.EventBox:
			if err := capture.onBox(r.dec); err != nil {
				return nil, err
			}
		case codec.EventBoxNeedMoreOutput:
			if err := capture.onGrow(r.dec); err != nil {
				return nil, err
			}
		case codec.EventColorEncoding:
			if enc, err := r.dec.ColorAsEncodedProfile(); err == nil {
				r.colorEnc = &enc
			} else if icc, err := r.dec.ICCProfile(); err == nil {
				r.icc = icc
			}
		case codec.EventSuccess:
			break loop
		case codec.EventError:
			if closedAtEOF && info != nil {
				// The stream ended early. Metadata keeps what was
				// parsed; pixel access reports the truncation.
				break loop
			}
			return nil, fmt.Errorf("%w: %v", ErrProtocol, r.dec.Err())
		}
	}
	capture.finish(r.dec)

	if info == nil {
		return nil, fmt.Errorf("%w: no image header", ErrProtocol)
	}
	if err := r.assemble(*info); err != nil {
		return nil, err
	}
	r.xmp = capture.xmp
	r.exif = capture.exif
	r.jumb = capture.jumb
	r.hasJBRD = capture.hasJBRD
	r.buildMetadata()
	return r, nil
}

func newPoolFor(x, y uint32, maxThreads int) *codec.Pool {
	suggested := int(codec.SuggestThreads(x, y))
	if maxThreads > 0 && maxThreads < suggested {
		suggested = maxThreads
	}
	return codec.NewPool(suggested)
}

// assemble derives the raster band layout from the image header.
func (r *Reader) assemble(info codec.BasicInfo) error {
	r.width = info.XSize
	r.height = info.YSize
	r.bits = info.BitsPerSample
	r.usesOriginal = info.UsesOriginalProfile

	switch {
	case info.ExponentBitsPerSample == 0 && info.BitsPerSample <= 8:
		r.dataType = TypeByte
	case info.ExponentBitsPerSample == 0 && info.BitsPerSample <= 16:
		r.dataType = TypeUInt16
	case info.ExponentBitsPerSample == 8:
		r.dataType = TypeFloat32
	default:
		return fmt.Errorf("%w: %d bits with %d exponent bits",
			ErrUnsupportedType, info.BitsPerSample, info.ExponentBitsPerSample)
	}
	if info.NumColorChannels != 1 && info.NumColorChannels != 3 {
		return fmt.Errorf("%w: %d color channels", ErrUnsupportedType, info.NumColorChannels)
	}

	// The frame itself says how many channels travel interleaved; fall
	// back to the header when the stream was cut before the frame.
	if mainCh, standalone, ok := r.dec.FrameLayout(); ok {
		r.mainCh = mainCh
		r.nStandalone = standalone
		r.foldedAlpha = mainCh > info.NumColorChannels
	} else {
		r.foldedAlpha = info.NumExtraChannels == 1 && info.AlphaBits != 0
		r.mainCh = info.NumColorChannels
		if r.foldedAlpha {
			r.mainCh++
			r.nStandalone = 0
		} else {
			r.nStandalone = info.NumExtraChannels
		}
	}

	if info.NumColorChannels == 1 {
		r.bands = append(r.bands, BandInfo{DataType: r.dataType, Interp: InterpGray})
	} else {
		r.bands = append(r.bands,
			BandInfo{DataType: r.dataType, Interp: InterpRed},
			BandInfo{DataType: r.dataType, Interp: InterpGreen},
			BandInfo{DataType: r.dataType, Interp: InterpBlue})
	}
	if r.foldedAlpha {
		r.bands = append(r.bands, BandInfo{DataType: r.dataType, Interp: InterpAlpha})
	}
	// Standalone planes map onto the tail of the extra channel table; a
	// folded alpha occupies the leading entry.
	extraOffset := info.NumExtraChannels - r.nStandalone
	if extraOffset < 0 {
		return fmt.Errorf("%w: frame carries more planes than declared channels", ErrProtocol)
	}
	for i := 0; i < r.nStandalone; i++ {
		ec, err := r.dec.ExtraChannelInfo(extraOffset + i)
		if err != nil {
			return err
		}
		band := BandInfo{DataType: r.dataType, Description: ec.Name}
		if ec.Type == codec.ChannelAlpha {
			band.Interp = InterpAlpha
		}
		// An auto-generated positional name carries no information.
		if band.Description == fmt.Sprintf("Band %d", len(r.bands)+1) {
			band.Description = ""
		}
		if band.Description == "" {
			band.Description = extraChannelDescription(ec.Type)
		}
		r.bands = append(r.bands, band)
	}
	return nil
}

func extraChannelDescription(t codec.ExtraChannelType) string {
	switch t {
	case codec.ChannelAlpha:
		return "Alpha channel"
	case codec.ChannelDepth:
		return "Depth channel"
	case codec.ChannelSpotColor:
		return "Spot color channel"
	case codec.ChannelSelectionMask:
		return "Selection mask channel"
	case codec.ChannelBlack:
		return "Black channel"
	case codec.ChannelCFA:
		return "CFA channel"
	case codec.ChannelThermal:
		return "Thermal channel"
	default:
		return ""
	}
}

func (r *Reader) buildMetadata() {
	md := map[string]string{}
	if r.usesOriginal && !r.hasJBRD {
		md["COMPRESSION_REVERSIBILITY"] = "LOSSLESS (possibly)"
	} else {
		md["COMPRESSION_REVERSIBILITY"] = "LOSSY"
	}
	if r.hasJBRD {
		md["ORIGINAL_COMPRESSION"] = "JPEG"
	}
	if len(r.bands) > 1 {
		md["INTERLEAVE"] = "PIXEL"
	}
	if n := r.NBits(); n != 0 {
		md["NBITS"] = fmt.Sprintf("%d", n)
	}
	if r.icc != nil {
		md["SOURCE_ICC_PROFILE"] = base64.StdEncoding.EncodeToString(r.icc)
	} else if r.colorEnc != nil && !isDefaultColor(*r.colorEnc, r.colorEnc.ColorSpace == codec.SpaceGray) {
		md["COLOR_SPACE"] = colorSpaceName(r.colorEnc.ColorSpace)
		md["WHITE_POINT"] = whitePointName(r.colorEnc.WhitePoint)
		md["PRIMARIES"] = primariesName(r.colorEnc.Primaries)
		md["TRANSFER_FUNCTION"] = transferName(r.colorEnc.TransferFunction)
	}
	if r.exif != nil {
		tags, err := exifbox.Tags(exifbox.TIFFBody(r.exif))
		if err != nil {
			logger.Warnf("ignoring unreadable EXIF box: %v", err)
		} else {
			for k, v := range tags {
				md[k] = v
			}
		}
	}
	r.metadata = md
}

// Width returns the raster width in pixels.
func (r *Reader) Width() int { return int(r.width) }

// Height returns the raster height in pixels.
func (r *Reader) Height() int { return int(r.height) }

// NumBands returns the band count.
func (r *Reader) NumBands() int { return len(r.bands) }

// Band describes band i, 0-based.
func (r *Reader) Band(i int) BandInfo { return r.bands[i] }

// NBits reports the declared sample depth when it is narrower than the
// sample type, and zero otherwise.
func (r *Reader) NBits() int {
	if needsRescale(r.dataType, r.bits) {
		return r.bits
	}
	return 0
}

// Metadata returns the flat metadata table: compression reversibility,
// non-default color information and EXIF tags.
func (r *Reader) Metadata() map[string]string { return r.metadata }

// XMP returns the XMP packet carried by the stream, or nil.
func (r *Reader) XMP() []byte { return r.xmp }

// ICCProfile returns the raw ICC profile carried by the stream, or nil.
func (r *Reader) ICCProfile() []byte { return r.icc }

// GeoTIFF returns the georeferencing blob carried by the stream's
// JUMBF box, or nil.
func (r *Reader) GeoTIFF() []byte { return geoTIFFFromJUMBF(r.jumb) }

// HasJPEGReconstruction reports whether the stream can reproduce the
// original JPEG bytes it was transcoded from.
func (r *Reader) HasJPEGReconstruction() bool { return r.hasJBRD }

// ReadBand fills dst with the width*height samples of band i, triggering
// the pixel decode pass on first use.
func (r *Reader) ReadBand(i int, dst []byte) error {
	if i < 0 || i >= len(r.bands) {
		return fmt.Errorf("jpegxl: band %d out of range", i)
	}
	if err := r.decodeAll(); err != nil {
		return err
	}
	want := int(r.width) * int(r.height) * r.dataType.Size()
	if len(dst) != want {
		return fmt.Errorf("jpegxl: band buffer is %d bytes, want %d", len(dst), want)
	}
	if i >= r.mainCh {
		copy(dst, r.planes[i-r.mainCh])
		return nil
	}
	r.deinterleave(i, dst)
	return nil
}

// deinterleave copies channel ch of the cached interleaved image into dst.
func (r *Reader) deinterleave(ch int, dst []byte) {
	size := r.dataType.Size()
	stride := r.mainCh * size
	w, h := int(r.width), int(r.height)
	r.pool.Run(h, func(y int) {
		src := r.main[y*w*stride:]
		out := dst[y*w*size:]
		for x := 0; x < w; x++ {
			copy(out[x*size:x*size+size], src[x*stride+ch*size:])
		}
	})
}

// decodeAll runs the pixel decode pass once and caches the result. Failure
// is sticky.
func (r *Reader) decodeAll() error {
	if r.decoded {
		return r.decodeErr
	}
	r.decoded = true
	r.decodeErr = r.runPixelPass()
	if r.decodeErr != nil {
		r.main = nil
		r.planes = nil
	}
	return r.decodeErr
}

func (r *Reader) runPixelPass() error {
	if err := r.src.SeekStart(); err != nil {
		return err
	}
	r.dec.Rewind()
	r.dec.SetWorkerPool(r.pool)
	r.dec.SubscribeEvents(codec.WantFullImage)

	format := codec.PixelFormat{NumChannels: r.mainCh, DataType: r.dataType.sampleType()}
	buf := make([]byte, inputChunkSize)
	for {
		switch ev := r.dec.ProcessInput(); ev {
		case codec.EventNeedMoreInput:
			n, err := r.src.Read(buf)
			if n > 0 {
				if serr := r.dec.SetInput(buf[:n]); serr != nil {
					return serr
				}
				continue
			}
			if err != nil && err != io.EOF {
				return err
			}
			return fmt.Errorf("%w: decoder expected more input", ErrTruncated)
		case codec.EventNeedImageOutBuffer:
			size, err := r.dec.ImageOutBufferSize(format)
			if err != nil {
				return err
			}
			if overflows(int(r.width), int(r.height), r.mainCh, r.dataType.Size()) {
				return fmt.Errorf("%w: image too large for memory", ErrCapacity)
			}
			r.main = make([]byte, size)
			if err := r.dec.SetImageOutBuffer(format, r.main); err != nil {
				return err
			}
			r.planes = make([][]byte, r.nStandalone)
			planeFormat := codec.PixelFormat{NumChannels: 1, DataType: format.DataType}
			for i := 0; i < r.nStandalone; i++ {
				size, err := r.dec.ExtraChannelBufferSize(planeFormat, i)
				if err != nil {
					return err
				}
				r.planes[i] = make([]byte, size)
				if err := r.dec.SetExtraChannelBuffer(planeFormat, r.planes[i], i); err != nil {
					return err
				}
			}
		case codec.EventFullImage, codec.EventSuccess:
			if r.main == nil {
				return fmt.Errorf("%w: no image delivered", ErrProtocol)
			}
			if needsRescale(r.dataType, r.bits) {
				rescaleDown(r.main, r.dataType, r.bits, r.pool)
				for _, p := range r.planes {
					rescaleDown(p, r.dataType, r.bits, r.pool)
				}
			}
			return nil
		case codec.EventError:
			return fmt.Errorf("%w: %v", ErrProtocol, r.dec.Err())
		}
	}
}

// overflows guards the w*h*channels*size multiplication on 32-bit builds.
func overflows(w, h, ch, size int) bool {
	const maxInt = int(^uint(0) >> 1)
	if w <= 0 || h <= 0 {
		return true
	}
	if h > maxInt/w {
		return true
	}
	px := w * h
	if ch > 0 && px > maxInt/(ch*size) {
		return true
	}
	return false
}
