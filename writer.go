package jpegxl

import (
	"fmt"
	"io"
	"math"

	"github.com/zachsussman/jpegxl/internal/codec"
	"github.com/zachsussman/jpegxl/internal/exifbox"
)

// drainChunkSize is the span size used when pumping encoder output.
const drainChunkSize = 40960

// Codestream level 5 limits; past any of them level 10 is selected.
const (
	level5MaxDim  = 1 << 18
	level5MaxArea = 1 << 28
)

// WriteOptions tunes Write. Nil pointers mean "not set"; the zero value
// selects lossless encoding with no metadata boxes. DefaultWriteOptions
// enables the metadata boxes.
type WriteOptions struct {
	// Lossless forces or forbids mathematically lossless encoding. Unset
	// defaults to lossless unless Distance or Quality is given.
	Lossless *bool

	// Distance is the lossy quality distance, 0 (lossless) to 25.
	// Mutually exclusive with Quality.
	Distance *float64

	// Quality is a JPEG-style 1-100 quality that is converted to a
	// distance. Mutually exclusive with Distance.
	Quality *float64

	// Effort is the encode effort, 1-9. Zero selects 5.
	Effort int

	// NBits declares a sample depth narrower than the band data type.
	NBits int

	// NumThreads caps the encode worker pool.
	NumThreads int

	// ICCProfile installs an opaque color profile.
	ICCProfile []byte

	// WriteXMP, WriteEXIF and WriteGeoBox control which metadata boxes
	// are written when the source provides the corresponding payloads.
	WriteXMP    bool
	WriteEXIF   bool
	WriteGeoBox bool

	// CompressBoxes stores the metadata boxes compressed.
	CompressBoxes bool
}

// DefaultWriteOptions returns the options Write treats as its defaults:
// metadata boxes on, effort 5.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{Effort: 5, WriteXMP: true, WriteEXIF: true, WriteGeoBox: true}
}

// Bool returns a pointer to v, for use in WriteOptions.
func Bool(v bool) *bool { return &v }

// Float returns a pointer to v, for use in WriteOptions.
func Float(v float64) *float64 { return &v }

// QualityToDistance converts a JPEG-style 1-100 quality to a distance.
func QualityToDistance(quality float64) float64 {
	switch {
	case quality >= 100:
		return 0
	case quality >= 30:
		return 0.1 + (100-quality)*0.09
	default:
		return 6.4 + math.Pow(2.5, (30-quality)/5)/6.25
	}
}

type writeLayout struct {
	width, height int
	dataType      DataType
	bits          int
	expBits       int
	numColor      int
	foldedAlpha   bool
	numExtra      int // extra channels including folded alpha
	mainCh        int
	bands         []BandInfo
}

// resolveOptions validates the option set before any pixel I/O happens.
func resolveOptions(opts *WriteOptions) (lossless bool, distance float64, effort int, err error) {
	if opts.Distance != nil && opts.Quality != nil {
		return false, 0, 0, fmt.Errorf("%w: Distance and Quality are mutually exclusive", ErrConfig)
	}
	lossy := (opts.Distance != nil && *opts.Distance != 0) || opts.Quality != nil
	if opts.Lossless != nil && *opts.Lossless && lossy {
		return false, 0, 0, fmt.Errorf("%w: Lossless contradicts Distance/Quality", ErrConfig)
	}
	if opts.Lossless != nil {
		lossless = *opts.Lossless
	} else {
		lossless = !lossy
	}
	switch {
	case lossless:
		distance = 0
	case opts.Distance != nil:
		distance = *opts.Distance
	case opts.Quality != nil:
		distance = QualityToDistance(*opts.Quality)
	default:
		distance = 1
	}
	if distance < 0 || distance > 25 {
		return false, 0, 0, fmt.Errorf("%w: distance %g out of range [0, 25]", ErrConfig, distance)
	}
	if distance > 0 && distance < 0.1 {
		distance = 0.1
	}
	effort = opts.Effort
	if effort == 0 {
		effort = 5
	}
	if effort < 1 || effort > 9 {
		return false, 0, 0, fmt.Errorf("%w: effort %d out of range [1, 9]", ErrConfig, opts.Effort)
	}
	return lossless, distance, effort, nil
}

func resolveLayout(src Source, opts *WriteOptions) (*writeLayout, error) {
	w, h := src.Bounds()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrConfig)
	}
	n := src.NumBands()
	if n < 1 {
		return nil, fmt.Errorf("%w: no bands", ErrConfig)
	}
	bands := make([]BandInfo, n)
	for i := range bands {
		bands[i] = src.Band(i)
		if bands[i].DataType != bands[0].DataType {
			return nil, fmt.Errorf("%w: bands carry mixed data types", ErrUnsupportedType)
		}
	}
	lay := &writeLayout{width: w, height: h, dataType: bands[0].DataType, bands: bands}
	switch lay.dataType {
	case TypeByte:
		lay.bits = 8
	case TypeUInt16:
		lay.bits = 16
	case TypeFloat32:
		lay.bits = 32
		lay.expBits = 8
	}
	if opts.NBits > 0 {
		max := lay.bits
		if lay.dataType == TypeFloat32 {
			return nil, fmt.Errorf("%w: NBits does not apply to float bands", ErrConfig)
		}
		if opts.NBits > max {
			return nil, fmt.Errorf("%w: NBits %d exceeds the band depth %d", ErrConfig, opts.NBits, max)
		}
		lay.bits = opts.NBits
	}

	lay.numColor = 1
	if n >= 3 && bands[0].Interp == InterpRed && bands[1].Interp == InterpGreen && bands[2].Interp == InterpBlue {
		lay.numColor = 3
		if n >= 4 && bands[3].Interp == InterpAlpha {
			lay.foldedAlpha = true
		}
	} else if n == 2 && bands[1].Interp == InterpAlpha {
		lay.foldedAlpha = true
	}
	lay.numExtra = n - lay.numColor
	lay.mainCh = lay.numColor
	if lay.foldedAlpha {
		lay.mainCh++
	}
	return lay, nil
}

func codestreamLevel(lay *writeLayout) int {
	if lay.bits > 12 ||
		lay.width > level5MaxDim || lay.height > level5MaxDim ||
		lay.width*lay.height > level5MaxArea ||
		lay.numExtra >= 5 {
		return 10
	}
	return 5
}

// Write encodes src as a JPEG XL stream on dst.
func Write(dst io.Writer, src Source, opts *WriteOptions) error {
	if opts == nil {
		opts = &WriteOptions{}
	}
	lossless, distance, effort, err := resolveOptions(opts)
	if err != nil {
		return err
	}
	lay, err := resolveLayout(src, opts)
	if err != nil {
		return err
	}

	enc := codec.NewEncoder()
	enc.SetWorkerPool(newPoolFor(uint32(lay.width), uint32(lay.height), opts.NumThreads))
	settings := enc.FrameSettings()
	if err := settings.SetEffort(effort); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if lossless {
		settings.SetLossless(true)
	} else if err := settings.SetDistance(distance); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := enc.SetCodestreamLevel(codestreamLevel(lay)); err != nil {
		return err
	}

	if err := addMetadataBoxes(enc, src, opts); err != nil {
		return err
	}

	// A lossless re-encode of an original JPEG embeds the filtered byte
	// stream so it stays reconstructible. Any inconsistency in the
	// original falls back to pixel encoding without comment.
	if lossless && opts.ICCProfile == nil && opts.NBits == 0 &&
		(lay.numColor == src.NumBands()) {
		if js, ok := src.(JPEGSource); ok {
			if original := js.OriginalJPEG(); original != nil {
				if filtered := prepareJPEGPassthrough(original); filtered != nil {
					enc.StoreJPEGMetadata(true)
					if err := enc.AddJPEGFrame(filtered); err == nil {
						return drainEncoder(dst, enc)
					}
					return fmt.Errorf("%w: original JPEG not embeddable", ErrProtocol)
				}
			}
		}
	}

	if err := describeImage(enc, lay, lossless, opts); err != nil {
		return err
	}
	if err := addPixels(enc, src, lay); err != nil {
		return err
	}
	return drainEncoder(dst, enc)
}

func describeImage(enc *codec.Encoder, lay *writeLayout, lossless bool, opts *WriteOptions) error {
	info := codec.BasicInfo{
		XSize:                 uint32(lay.width),
		YSize:                 uint32(lay.height),
		BitsPerSample:         lay.bits,
		ExponentBitsPerSample: lay.expBits,
		NumColorChannels:      lay.numColor,
		NumExtraChannels:      lay.numExtra,
		UsesOriginalProfile:   lossless || lay.bits > 12 || opts.ICCProfile != nil,
	}
	if lay.foldedAlpha {
		info.AlphaBits = lay.bits
		info.AlphaExponentBits = lay.expBits
	}
	if err := enc.SetBasicInfo(info); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if opts.ICCProfile != nil {
		if err := enc.SetICCProfile(opts.ICCProfile); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	// Extra channel descriptors. With a folded alpha band the alpha is
	// extra channel 0 and the standalone bands follow it.
	extraBase := lay.numColor
	if lay.foldedAlpha {
		ec := codec.ExtraChannelInfo{
			Type:                  codec.ChannelAlpha,
			BitsPerSample:         lay.bits,
			ExponentBitsPerSample: lay.expBits,
		}
		if err := enc.SetExtraChannelInfo(0, ec); err != nil {
			return err
		}
		extraBase++
	}
	for band := extraBase; band < len(lay.bands); band++ {
		idx := band - lay.numColor
		ec := codec.ExtraChannelInfo{
			Type:                  codec.ChannelOptional,
			BitsPerSample:         lay.bits,
			ExponentBitsPerSample: lay.expBits,
		}
		if lay.bands[band].Interp == InterpAlpha {
			ec.Type = codec.ChannelAlpha
		}
		ec.Name = lay.bands[band].Description
		if ec.Name == "" {
			ec.Name = fmt.Sprintf("Band %d", band+1)
		}
		if err := enc.SetExtraChannelInfo(idx, ec); err != nil {
			return err
		}
	}
	return nil
}

func addMetadataBoxes(enc *codec.Encoder, src Source, opts *WriteOptions) error {
	ms, ok := src.(MetadataSource)
	if !ok {
		return nil
	}
	var xmp, exifTIFF, geo []byte
	if opts.WriteXMP {
		xmp = ms.XMP()
	}
	if opts.WriteEXIF {
		exifTIFF = ms.EXIFTIFF()
	}
	if opts.WriteGeoBox {
		geo = ms.GeoTIFF()
	}
	if xmp == nil && exifTIFF == nil && geo == nil {
		return nil
	}
	enc.UseBoxes()
	if xmp != nil {
		if err := enc.AddBox("xml ", xmp, opts.CompressBoxes); err != nil {
			return err
		}
	}
	if exifTIFF != nil {
		if err := enc.AddBox("Exif", exifbox.Payload(exifTIFF), opts.CompressBoxes); err != nil {
			return err
		}
	}
	if geo != nil {
		if err := enc.AddBox("jumb", geoJUMBFPayload(geo), opts.CompressBoxes); err != nil {
			return err
		}
	}
	return nil
}

func addPixels(enc *codec.Encoder, src Source, lay *writeLayout) error {
	size := lay.dataType.Size()
	if overflows(lay.width, lay.height, lay.mainCh, size) {
		return fmt.Errorf("%w: image too large for memory", ErrCapacity)
	}
	planeBytes := lay.width * lay.height * size
	pool := codec.NewPool(0)

	main := make([]byte, planeBytes*lay.mainCh)
	plane := make([]byte, planeBytes)
	for ch := 0; ch < lay.mainCh; ch++ {
		if err := src.ReadBand(ch, plane); err != nil {
			return err
		}
		if needsRescale(lay.dataType, lay.bits) {
			rescaleUp(plane, lay.dataType, lay.bits, pool)
		}
		interleave(main, plane, ch, lay.mainCh, size, pool)
	}
	format := codec.PixelFormat{NumChannels: lay.mainCh, DataType: lay.dataType.sampleType()}
	if err := enc.AddImageFrame(format, main); err != nil {
		return err
	}

	standaloneBase := 0
	if lay.foldedAlpha {
		standaloneBase = 1
	}
	planeFormat := codec.PixelFormat{NumChannels: 1, DataType: format.DataType}
	for band := lay.mainCh; band < len(lay.bands); band++ {
		buf := make([]byte, planeBytes)
		if err := src.ReadBand(band, buf); err != nil {
			return err
		}
		if needsRescale(lay.dataType, lay.bits) {
			rescaleUp(buf, lay.dataType, lay.bits, pool)
		}
		idx := standaloneBase + band - lay.mainCh
		if err := enc.SetExtraChannelBuffer(planeFormat, buf, idx); err != nil {
			return err
		}
	}
	return nil
}

// interleave scatters a packed plane into channel ch of the interleaved
// main buffer.
func interleave(main, plane []byte, ch, channels, size int, pool *codec.Pool) {
	samples := len(plane) / size
	workers := pool.Threads()
	if workers > samples {
		workers = samples
	}
	if workers < 1 {
		workers = 1
	}
	per := (samples + workers - 1) / workers
	pool.Run(workers, func(i int) {
		lo := i * per
		hi := lo + per
		if hi > samples {
			hi = samples
		}
		for s := lo; s < hi; s++ {
			copy(main[(s*channels+ch)*size:], plane[s*size:s*size+size])
		}
	})
}

func drainEncoder(dst io.Writer, enc *codec.Encoder) error {
	if err := enc.CloseInput(); err != nil {
		return err
	}
	buf := make([]byte, drainChunkSize)
	for {
		n, more, err := enc.ProcessOutput(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if !more {
			return nil
		}
	}
}
