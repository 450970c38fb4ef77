package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"image/jpeg"
	"math"
	"sort"
)

// FrameSettings carries the per-frame compression knobs.
type FrameSettings struct {
	distance float32
	lossless bool
	effort   int
}

// SetDistance sets the lossy quality distance. Zero is mathematically
// lossless; the useful lossy range is (0, 25].
func (s *FrameSettings) SetDistance(d float64) error {
	if d < 0 || d > 25 {
		return fmt.Errorf("distance %g out of range [0, 25]", d)
	}
	s.distance = float32(d)
	return nil
}

// SetLossless toggles the mathematically lossless mode.
func (s *FrameSettings) SetLossless(on bool) {
	s.lossless = on
	if on {
		s.distance = 0
	}
}

// SetEffort sets the encode effort, 1 (fastest) to 9 (smallest output).
func (s *FrameSettings) SetEffort(e int) error {
	if e < 1 || e > 9 {
		return fmt.Errorf("effort %d out of range [1, 9]", e)
	}
	s.effort = e
	return nil
}

type encBox struct {
	boxType  string
	payload  []byte
	compress bool
}

// Encoder is an incremental encode session: describe the image, add exactly
// one frame and any metadata boxes, close input, then drain the serialized
// stream through ProcessOutput.
type Encoder struct {
	pool     *Pool
	settings FrameSettings

	info     *BasicInfo
	extra    []ExtraChannelInfo
	colorEnc *ColorEncoding
	icc      []byte
	level    int

	useBoxes      bool
	storeJPEGMeta bool
	boxes         []encBox

	frameSet  bool
	frameKind int
	mainCh    int
	mainBuf   []byte
	planes    map[int][]byte
	jpegData  []byte

	closed bool
	out    []byte
	outOff int
}

// NewEncoder creates a fresh encode session with default settings
// (distance 1, effort 7, codestream level 5).
func NewEncoder() *Encoder {
	return &Encoder{
		pool:     NewPool(1),
		settings: FrameSettings{distance: 1, effort: 7},
		level:    5,
		planes:   make(map[int][]byte),
	}
}

// SetWorkerPool attaches the data-parallel pool used by pixel kernels.
func (e *Encoder) SetWorkerPool(p *Pool) {
	if p != nil {
		e.pool = p
	}
}

// FrameSettings returns the mutable per-frame compression knobs.
func (e *Encoder) FrameSettings() *FrameSettings {
	return &e.settings
}

// SetCodestreamLevel selects the conformance level, 5 or 10. Level 10 lifts
// the dimension and channel limits of level 5.
func (e *Encoder) SetCodestreamLevel(level int) error {
	if level != 5 && level != 10 {
		return fmt.Errorf("codestream level %d is not 5 or 10", level)
	}
	e.level = level
	return nil
}

// SetBasicInfo installs the image header. Must precede AddImageFrame.
func (e *Encoder) SetBasicInfo(info BasicInfo) error {
	if info.XSize == 0 || info.YSize == 0 {
		return errors.New("zero image dimension")
	}
	if info.NumColorChannels != 1 && info.NumColorChannels != 3 {
		return fmt.Errorf("%d color channels, want 1 or 3", info.NumColorChannels)
	}
	e.info = &info
	if len(e.extra) != info.NumExtraChannels {
		extra := make([]ExtraChannelInfo, info.NumExtraChannels)
		for i := range extra {
			extra[i] = ExtraChannelInfo{
				Type:                  ChannelOptional,
				BitsPerSample:         info.BitsPerSample,
				ExponentBitsPerSample: info.ExponentBitsPerSample,
			}
		}
		copy(extra, e.extra)
		e.extra = extra
	}
	return nil
}

// SetColorEncoding installs a structured color description. Mutually
// exclusive with SetICCProfile; the last call wins.
func (e *Encoder) SetColorEncoding(enc ColorEncoding) {
	e.colorEnc = &enc
	e.icc = nil
}

// SetICCProfile installs an opaque ICC profile as the color description.
func (e *Encoder) SetICCProfile(icc []byte) error {
	if len(icc) == 0 {
		return errors.New("empty ICC profile")
	}
	e.icc = append([]byte{}, icc...)
	e.colorEnc = nil
	return nil
}

// SetExtraChannelInfo describes extra channel index.
func (e *Encoder) SetExtraChannelInfo(index int, ec ExtraChannelInfo) error {
	if index < 0 || index >= len(e.extra) {
		return fmt.Errorf("extra channel %d out of range", index)
	}
	name := e.extra[index].Name
	e.extra[index] = ec
	if ec.Name == "" {
		e.extra[index].Name = name
	}
	return nil
}

// SetExtraChannelName names extra channel index.
func (e *Encoder) SetExtraChannelName(index int, name string) error {
	if index < 0 || index >= len(e.extra) {
		return fmt.Errorf("extra channel %d out of range", index)
	}
	e.extra[index].Name = name
	return nil
}

// UseBoxes switches the output to the boxed container so metadata boxes can
// be attached.
func (e *Encoder) UseBoxes() {
	e.useBoxes = true
}

// AddBox queues a metadata box. With compressBox the box is wrapped in a
// compressed box on serialization.
func (e *Encoder) AddBox(boxType string, payload []byte, compressBox bool) error {
	if !e.useBoxes {
		return errors.New("UseBoxes was not called")
	}
	if len(boxType) != 4 {
		return fmt.Errorf("box type %q is not 4 bytes", boxType)
	}
	e.boxes = append(e.boxes, encBox{
		boxType:  boxType,
		payload:  append([]byte{}, payload...),
		compress: compressBox,
	})
	return nil
}

// StoreJPEGMetadata records that enough information to reconstruct the
// original JPEG byte stream must be kept. Only meaningful with AddJPEGFrame.
func (e *Encoder) StoreJPEGMetadata(on bool) {
	e.storeJPEGMeta = on
}

// AddImageFrame attaches the interleaved main image plane. The buffer is
// copied. A session carries exactly one frame.
func (e *Encoder) AddImageFrame(f PixelFormat, buf []byte) error {
	if e.frameSet {
		return errors.New("a frame was already added")
	}
	if e.info == nil {
		return errors.New("basic info not set")
	}
	if f.NumChannels < 1 {
		return fmt.Errorf("%d channels in pixel format", f.NumChannels)
	}
	want := int(e.info.XSize) * int(e.info.YSize) * f.NumChannels * f.DataType.Size()
	if len(buf) != want {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(buf), want)
	}
	e.frameSet = true
	e.frameKind = frameKindPixels
	e.mainCh = f.NumChannels
	e.mainBuf = append([]byte{}, buf...)
	return nil
}

// SetExtraChannelBuffer attaches the plane for extra channel index. Channels
// folded into the interleaved frame buffer must not also be attached here.
func (e *Encoder) SetExtraChannelBuffer(f PixelFormat, buf []byte, index int) error {
	if e.info == nil {
		return errors.New("basic info not set")
	}
	if index < 0 || index >= len(e.extra) {
		return fmt.Errorf("extra channel %d out of range", index)
	}
	want := int(e.info.XSize) * int(e.info.YSize) * f.DataType.Size()
	if len(buf) != want {
		return fmt.Errorf("channel buffer is %d bytes, want %d", len(buf), want)
	}
	e.planes[index] = append([]byte{}, buf...)
	return nil
}

// AddJPEGFrame attaches an original JPEG byte stream as the frame. The image
// header is derived from the JPEG when none was installed.
func (e *Encoder) AddJPEGFrame(data []byte) error {
	if e.frameSet {
		return errors.New("a frame was already added")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("not a decodable JPEG: %w", err)
	}
	if e.info == nil {
		info := BasicInfo{
			XSize:               uint32(cfg.Width),
			YSize:               uint32(cfg.Height),
			BitsPerSample:       8,
			NumColorChannels:    3,
			UsesOriginalProfile: true,
		}
		if cfg.ColorModel == color.GrayModel {
			info.NumColorChannels = 1
		}
		e.info = &info
	}
	e.frameSet = true
	e.frameKind = frameKindJPEG
	e.mainCh = e.info.NumColorChannels
	e.jpegData = append([]byte{}, data...)
	return nil
}

// CloseInput declares the session description complete and serializes the
// stream. After it returns, drain with ProcessOutput.
func (e *Encoder) CloseInput() error {
	if e.closed {
		return errors.New("input already closed")
	}
	if !e.frameSet {
		return errors.New("no frame was added")
	}
	out, err := e.serialize()
	if err != nil {
		return err
	}
	e.out = out
	e.closed = true
	return nil
}

// ProcessOutput copies the next span of the serialized stream into buf. It
// reports the byte count written and whether more output remains.
func (e *Encoder) ProcessOutput(buf []byte) (int, bool, error) {
	if !e.closed {
		return 0, false, errors.New("input not closed")
	}
	n := copy(buf, e.out[e.outOff:])
	e.outOff += n
	return n, e.outOff < len(e.out), nil
}

// --- serialization ---

func (e *Encoder) serialize() ([]byte, error) {
	cs, err := e.serializeCodestream()
	if err != nil {
		return nil, err
	}
	if !e.useBoxes && !e.storeJPEGMeta {
		return cs, nil
	}
	out := append([]byte{}, ContainerSignature...)
	out = appendBox(out, boxTypeFileType, ftypPayload, false)
	if e.storeJPEGMeta && e.frameKind == frameKindJPEG {
		out = appendBox(out, "jbrd", nil, false)
	}
	for _, b := range e.boxes {
		if b.compress {
			wrapped := make([]byte, 0, 4+len(b.payload))
			wrapped = append(wrapped, b.boxType...)
			wrapped = append(wrapped, compress(b.payload, e.settings.effort)...)
			out = appendBox(out, boxTypeCompressed, wrapped, false)
		} else {
			out = appendBox(out, b.boxType, b.payload, false)
		}
	}
	return appendBox(out, boxTypeCodestream, cs, false), nil
}

func (e *Encoder) serializeCodestream() ([]byte, error) {
	info := e.info
	var w bytes.Buffer
	w.Write(CodestreamMarker)
	w.WriteByte(codestreamVersion)
	writeU32(&w, info.XSize)
	writeU32(&w, info.YSize)
	w.WriteByte(byte(info.BitsPerSample))
	w.WriteByte(byte(info.ExponentBitsPerSample))
	w.WriteByte(byte(info.NumColorChannels))
	w.WriteByte(byte(info.NumExtraChannels))
	w.WriteByte(byte(info.AlphaBits))
	w.WriteByte(byte(info.AlphaExponentBits))
	w.WriteByte(boolByte(info.UsesOriginalProfile))
	w.WriteByte(byte(e.level))

	for _, ec := range e.extra {
		w.WriteByte(byte(ec.Type))
		w.WriteByte(byte(ec.BitsPerSample))
		w.WriteByte(byte(ec.ExponentBitsPerSample))
		if len(ec.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("channel name %d bytes long", len(ec.Name))
		}
		writeU16(&w, uint16(len(ec.Name)))
		w.WriteString(ec.Name)
	}

	if e.icc != nil {
		w.WriteByte(colorKindICC)
		writeU32(&w, uint32(len(e.icc)))
		w.Write(e.icc)
	} else {
		enc := e.colorEnc
		if enc == nil {
			def := SRGBEncoding(info.NumColorChannels == 1)
			enc = &def
		}
		w.WriteByte(colorKindEncoded)
		w.WriteByte(byte(enc.ColorSpace))
		w.WriteByte(byte(enc.WhitePoint))
		writeF64(&w, enc.WhitePointXY.X)
		writeF64(&w, enc.WhitePointXY.Y)
		w.WriteByte(byte(enc.Primaries))
		writeF64(&w, enc.PrimaryRedXY.X)
		writeF64(&w, enc.PrimaryRedXY.Y)
		writeF64(&w, enc.PrimaryGreenXY.X)
		writeF64(&w, enc.PrimaryGreenXY.Y)
		writeF64(&w, enc.PrimaryBlueXY.X)
		writeF64(&w, enc.PrimaryBlueXY.Y)
		w.WriteByte(byte(enc.TransferFunction))
		writeF64(&w, enc.Gamma)
		w.WriteByte(byte(enc.RenderingIntent))
	}

	distance := e.settings.distance
	if e.settings.lossless {
		distance = 0
	}

	planes := e.planeOrder()
	w.WriteByte(byte(e.frameKind))
	writeU32(&w, math.Float32bits(distance))
	w.WriteByte(byte(e.settings.effort))
	w.WriteByte(byte(e.mainCh))
	w.WriteByte(byte(len(planes)))

	if e.frameKind == frameKindJPEG {
		writeSection(&w, compress(e.jpegData, e.settings.effort))
		return w.Bytes(), nil
	}

	sections := make([][]byte, 1+len(planes))
	raws := make([][]byte, 1+len(planes))
	raws[0] = e.mainBuf
	for i, idx := range planes {
		raws[1+i] = e.planes[idx]
	}
	sampleType, err := e.frameSampleType()
	if err != nil {
		return nil, err
	}
	e.pool.Run(len(raws), func(i int) {
		raw := raws[i]
		if distance > 0 {
			raw = quantize(raw, sampleType, distance)
		}
		sections[i] = compress(raw, e.settings.effort)
	})
	for _, s := range sections {
		writeSection(&w, s)
	}
	return w.Bytes(), nil
}

// planeOrder returns the attached standalone channel indexes in ascending
// order; serialization and decode both rely on that order.
func (e *Encoder) planeOrder() []int {
	order := make([]int, 0, len(e.planes))
	for idx := range e.planes {
		order = append(order, idx)
	}
	sort.Ints(order)
	return order
}

func (e *Encoder) frameSampleType() (SampleType, error) {
	switch {
	case e.info.ExponentBitsPerSample == 0 && e.info.BitsPerSample <= 8:
		return SampleUint8, nil
	case e.info.ExponentBitsPerSample == 0 && e.info.BitsPerSample <= 16:
		return SampleUint16, nil
	case e.info.ExponentBitsPerSample == 8:
		return SampleFloat32, nil
	}
	return 0, fmt.Errorf("unsupported sample format (%d bits, %d exponent bits)",
		e.info.BitsPerSample, e.info.ExponentBitsPerSample)
}

// quantize coarsens integer samples in proportion to the quality distance.
// Floating point samples pass through unchanged. The input is not modified.
func quantize(raw []byte, t SampleType, distance float32) []byte {
	step := uint32(math.Round(float64(distance) * 2))
	if step <= 1 {
		return raw
	}
	out := make([]byte, len(raw))
	switch t {
	case SampleUint8:
		half := step / 2
		for i, v := range raw {
			q := (uint32(v)/step)*step + half
			if q > 255 {
				q = 255
			}
			out[i] = byte(q)
		}
	case SampleUint16:
		// Keep the step size proportional to the wider range.
		step16 := step * 257
		half := step16 / 2
		for i := 0; i+1 < len(raw); i += 2 {
			v := uint32(binary.LittleEndian.Uint16(raw[i:]))
			q := (v/step16)*step16 + half
			if q > math.MaxUint16 {
				q = math.MaxUint16
			}
			binary.LittleEndian.PutUint16(out[i:], uint16(q))
		}
	default:
		copy(out, raw)
	}
	return out
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func writeU16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeF64(w *bytes.Buffer, v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.Write(b[:])
}

func writeSection(w *bytes.Buffer, compressed []byte) {
	writeU32(w, uint32(len(compressed)))
	w.Write(compressed)
}
