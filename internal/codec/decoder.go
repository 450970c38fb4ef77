package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

type decodeState int

const (
	stateSignature decodeState = iota
	stateBoxHeader
	stateBoxPayload
	stateCodestream
	stateDone
	stateFailed
)

type csPhase int

const (
	phaseHeader csPhase = iota
	phaseExtra
	phaseColor
	phaseFrameHeader
	phaseFramePayload
	phaseAwaitBuffers
	phaseJPEGDeliver
	phaseDone
)

// fixedHeaderSize is the byte count of the codestream header before the
// extra-channel table: 2-byte marker, version, two u32 dimensions and eight
// single-byte fields.
const fixedHeaderSize = 19

// frameHeaderSize is kind + distance + effort + mainchannels + nstandalone.
const frameHeaderSize = 8

// Decoder is an incremental decode session. It consumes input fed with
// SetInput and is advanced one step at a time with ProcessInput; each step
// returns a classified event. A Decoder performs no I/O of its own.
type Decoder struct {
	events          EventMask
	pool            *Pool
	decompressBoxes bool

	in     []byte
	closed bool

	st    decodeState
	phase csPhase

	container bool

	// codestream accumulation
	cs       []byte
	csPos    int
	csLimit  int // payload bytes remaining to copy from input; -1 = to EOF
	csToEOF  bool
	csActive bool

	info     *BasicInfo
	extra    []ExtraChannelInfo
	level    int
	colorEnc *ColorEncoding
	icc      []byte

	frameKind   int
	distance    float32
	effort      int
	mainCh      int
	nStandalone int
	sections    [][]byte

	outBuf    []byte
	outFormat PixelFormat
	extraBufs [][]byte

	jpegSrc []byte
	jpegOff int
	jpegBuf []byte
	jpegPos int

	// box streaming
	boxRawType    string
	boxInnerType  string
	boxPayloadLen uint64
	boxToEOF      bool
	boxHasLen     bool
	boxAccum      []byte
	boxDiscarded  uint64
	boxPending    []byte
	boxDelivering bool
	boxBuf        []byte
	boxBufOff     int
	boxSpent      bool
	inBox         bool

	err error
}

// NewDecoder creates a fresh decode session.
func NewDecoder() *Decoder {
	return &Decoder{pool: NewPool(1)}
}

// SetWorkerPool attaches the data-parallel pool used by pixel kernels.
func (d *Decoder) SetWorkerPool(p *Pool) {
	if p != nil {
		d.pool = p
	}
}

// SubscribeEvents replaces the set of events the session reports.
func (d *Decoder) SubscribeEvents(m EventMask) {
	d.events = m
}

// SetDecompressBoxes controls whether compressed metadata boxes are
// transparently decompressed before delivery.
func (d *Decoder) SetDecompressBoxes(on bool) {
	d.decompressBoxes = on
}

// SetInput appends an input chunk. The bytes are copied; the caller may
// reuse its buffer after the call returns.
func (d *Decoder) SetInput(p []byte) error {
	if d.st == stateFailed {
		return d.err
	}
	if d.closed {
		return errors.New("input already closed")
	}
	d.in = append(d.in, p...)
	return nil
}

// ReleaseInput detaches the caller's input span. Because SetInput copies,
// there are never unconsumed caller-owned bytes; the return value is the
// count of such bytes and is always zero.
func (d *Decoder) ReleaseInput() int { return 0 }

// CloseInput declares that no further input will arrive. Running out of
// buffered data past this point while a section is incomplete is an error.
func (d *Decoder) CloseInput() { d.closed = true }

// Rewind resets the session so the same stream can be re-processed from
// offset zero, typically with a different event subscription. The worker
// pool and box-decompression setting survive; the subscription does not.
func (d *Decoder) Rewind() {
	pool, boxes := d.pool, d.decompressBoxes
	*d = Decoder{pool: pool, decompressBoxes: boxes}
}

// Err returns the sticky failure cause after EventError.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) Event {
	d.st = stateFailed
	d.err = err
	return EventError
}

// take consumes up to n bytes of buffered input.
func (d *Decoder) take(n int) []byte {
	if n > len(d.in) {
		n = len(d.in)
	}
	b := d.in[:n]
	d.in = d.in[n:]
	return b
}

// ProcessInput advances the session one step and classifies the outcome.
func (d *Decoder) ProcessInput() Event {
	for {
		switch d.st {
		case stateFailed:
			return EventError
		case stateDone:
			return EventSuccess

		case stateSignature:
			if len(d.in) >= len(ContainerSignature) && bytes.Equal(d.in[:len(ContainerSignature)], ContainerSignature) {
				d.take(len(ContainerSignature))
				d.container = true
				d.st = stateBoxHeader
				continue
			}
			if len(d.in) >= 2 && d.in[0] == CodestreamMarker[0] && d.in[1] == CodestreamMarker[1] {
				d.container = false
				d.csToEOF = true
				d.csLimit = -1
				d.st = stateCodestream
				continue
			}
			if len(d.in) >= len(ContainerSignature) {
				return d.fail(errors.New("not a recognized container or codestream"))
			}
			if d.closed {
				return d.fail(errors.New("input ended before the signature"))
			}
			return EventNeedMoreInput

		case stateBoxHeader:
			if len(d.in) < boxHeaderSize {
				if d.closed && len(d.in) == 0 {
					d.st = stateDone
					continue
				}
				if d.closed {
					return d.fail(errors.New("truncated box header"))
				}
				return EventNeedMoreInput
			}
			total := binary.BigEndian.Uint32(d.in[:4])
			boxType := string(d.in[4:boxHeaderSize])
			if total == 1 {
				return d.fail(errors.New("extended box sizes are not supported"))
			}
			if total != 0 && total < boxHeaderSize {
				return d.fail(fmt.Errorf("box %q declares impossible size %d", boxType, total))
			}
			if boxType == boxTypeCompressed && len(d.in) < boxHeaderSize+4 && !d.closed {
				// Wait for the wrapped box's type so it can be
				// reported alongside the box event.
				return EventNeedMoreInput
			}
			d.take(boxHeaderSize)
			if boxType == boxTypeCodestream {
				d.csToEOF = total == 0
				if d.csToEOF {
					d.csLimit = -1
				} else {
					d.csLimit = int(total - boxHeaderSize)
				}
				d.st = stateCodestream
				continue
			}
			d.beginBox(boxType, total)
			d.st = stateBoxPayload
			if d.events.has(WantBox) {
				return EventBox
			}
			continue

		case stateBoxPayload:
			if ev, emitted := d.stepBox(); emitted {
				return ev
			}
			continue

		case stateCodestream:
			if ev, emitted := d.stepCodestream(); emitted {
				return ev
			}
			continue
		}
	}
}

// --- box handling ---

func (d *Decoder) beginBox(boxType string, total uint32) {
	d.inBox = true
	d.boxRawType = boxType
	d.boxInnerType = boxType
	if boxType == boxTypeCompressed && len(d.in) >= 4 {
		d.boxInnerType = string(d.in[:4])
	}
	d.boxToEOF = total == 0
	d.boxHasLen = !d.boxToEOF
	if d.boxHasLen {
		d.boxPayloadLen = uint64(total - boxHeaderSize)
	} else {
		d.boxPayloadLen = 0
	}
	d.boxAccum = nil
	d.boxDiscarded = 0
	d.boxPending = nil
	d.boxDelivering = false
	// The previous box's buffer stays attached until the caller releases
	// it; its free-byte count is how the caller measures delivered size.
}

// BoxType reports the type of the current box. With decompressed true, a
// compressed wrapper box reports the type of the box it carries.
func (d *Decoder) BoxType(decompressed bool) (string, error) {
	if !d.inBox {
		return "", errors.New("no box is being processed")
	}
	if decompressed {
		return d.boxInnerType, nil
	}
	return d.boxRawType, nil
}

// BoxSizeRaw reports the declared payload size of the current box, zero when
// the box extends to end of stream.
func (d *Decoder) BoxSizeRaw() (uint64, error) {
	if !d.inBox {
		return 0, errors.New("no box is being processed")
	}
	return d.boxPayloadLen, nil
}

// SetBoxBuffer attaches (or re-attaches, after EventBoxNeedMoreOutput) the
// buffer the current box payload is delivered into.
func (d *Decoder) SetBoxBuffer(buf []byte) error {
	if !d.inBox {
		return errors.New("no box is being processed")
	}
	if len(buf) == 0 {
		return errors.New("empty box buffer")
	}
	d.boxBuf = buf
	d.boxBufOff = 0
	d.boxSpent = false
	return nil
}

// ReleaseBoxBuffer detaches the current box buffer and returns the number of
// bytes in it that were not written.
func (d *Decoder) ReleaseBoxBuffer() int {
	free := len(d.boxBuf) - d.boxBufOff
	if free < 0 {
		free = 0
	}
	d.boxBuf = nil
	return free
}

// stepBox advances box payload accumulation and delivery. It returns an
// event and true when the caller must observe it.
func (d *Decoder) stepBox() (Event, bool) {
	if !d.boxDelivering {
		if d.boxBuf == nil || d.boxSpent {
			return d.skipBox()
		}
		// Accumulate the raw payload.
		if d.boxHasLen {
			remaining := d.boxPayloadLen - uint64(len(d.boxAccum))
			chunk := d.take(int(min64(remaining, uint64(len(d.in)))))
			d.boxAccum = append(d.boxAccum, chunk...)
			if uint64(len(d.boxAccum)) < d.boxPayloadLen {
				if d.closed && len(d.in) == 0 {
					return d.fail(fmt.Errorf("box %q truncated", d.boxRawType)), true
				}
				return EventNeedMoreInput, true
			}
		} else {
			d.boxAccum = append(d.boxAccum, d.take(len(d.in))...)
			if !d.closed {
				return EventNeedMoreInput, true
			}
		}
		payload := d.boxAccum
		if d.boxRawType == boxTypeCompressed {
			if len(payload) < 4 {
				return d.fail(errors.New("compressed box too short")), true
			}
			d.boxInnerType = string(payload[:4])
			if d.decompressBoxes {
				raw, err := decompress(payload[4:])
				if err != nil {
					return d.fail(fmt.Errorf("box %q: %w", d.boxInnerType, err)), true
				}
				payload = raw
			}
		}
		d.boxPending = payload
		d.boxDelivering = true
	}
	if d.boxBuf == nil {
		// The caller abandoned the box after a grow request.
		d.endBox()
		return 0, false
	}
	n := copy(d.boxBuf[d.boxBufOff:], d.boxPending)
	d.boxBufOff += n
	d.boxPending = d.boxPending[n:]
	if len(d.boxPending) > 0 {
		return EventBoxNeedMoreOutput, true
	}
	d.boxSpent = true
	d.endBox()
	return 0, false
}

// skipBox discards the payload of a box nobody attached a buffer for,
// chunk by chunk, without accumulating it.
func (d *Decoder) skipBox() (Event, bool) {
	if d.boxHasLen {
		remaining := d.boxPayloadLen - d.boxDiscarded
		d.boxDiscarded += uint64(len(d.take(int(min64(remaining, uint64(len(d.in)))))))
		if d.boxDiscarded < d.boxPayloadLen {
			if d.closed && len(d.in) == 0 {
				return d.fail(fmt.Errorf("box %q truncated", d.boxRawType)), true
			}
			return EventNeedMoreInput, true
		}
	} else {
		d.boxDiscarded += uint64(len(d.take(len(d.in))))
		if !d.closed {
			return EventNeedMoreInput, true
		}
	}
	d.endBox()
	return 0, false
}

func (d *Decoder) endBox() {
	d.boxAccum = nil
	d.boxPending = nil
	d.boxDelivering = false
	d.inBox = false
	d.st = stateBoxHeader
}

// --- codestream handling ---

// pump moves buffered input into the codestream accumulator, honoring the
// enclosing box length when there is one.
func (d *Decoder) pump() {
	if d.csToEOF {
		d.cs = append(d.cs, d.take(len(d.in))...)
		return
	}
	if d.csLimit > 0 {
		chunk := d.take(minInt(d.csLimit, len(d.in)))
		d.csLimit -= len(chunk)
		d.cs = append(d.cs, chunk...)
	}
}

// starved reports whether no further codestream bytes can arrive.
func (d *Decoder) starved() bool {
	if d.csToEOF {
		return d.closed && len(d.in) == 0
	}
	return d.csLimit == 0 || (d.closed && len(d.in) == 0)
}

func (d *Decoder) stepCodestream() (Event, bool) {
	d.pump()
	switch d.phase {
	case phaseHeader:
		ok, err := d.parseFixedHeader()
		if err != nil {
			return d.fail(err), true
		}
		if !ok {
			return d.stall()
		}
		d.phase = phaseExtra
		if d.events.has(WantBasicInfo) {
			return EventBasicInfo, true
		}
		return 0, false

	case phaseExtra:
		ok, err := d.parseExtraChannels()
		if err != nil {
			return d.fail(err), true
		}
		if !ok {
			return d.stall()
		}
		d.phase = phaseColor
		return 0, false

	case phaseColor:
		ok, err := d.parseColorBlock()
		if err != nil {
			return d.fail(err), true
		}
		if !ok {
			return d.stall()
		}
		d.phase = phaseFrameHeader
		if d.events.has(WantColorEncoding) {
			return EventColorEncoding, true
		}
		return 0, false

	case phaseFrameHeader:
		ok, err := d.parseFrameHeader()
		if err != nil {
			return d.fail(err), true
		}
		if !ok {
			return d.stall()
		}
		d.phase = phaseFramePayload
		return 0, false

	case phaseFramePayload:
		ok, err := d.parseSections()
		if err != nil {
			return d.fail(err), true
		}
		if !ok {
			return d.stall()
		}
		return d.dispatchFrame()

	case phaseAwaitBuffers:
		if err := d.decodeFrame(); err != nil {
			return d.fail(err), true
		}
		d.phase = phaseDone
		return EventFullImage, true

	case phaseJPEGDeliver:
		if d.jpegBuf == nil {
			return d.fail(errors.New("no JPEG output buffer attached")), true
		}
		n := copy(d.jpegBuf[d.jpegPos:], d.jpegSrc[d.jpegOff:])
		d.jpegPos += n
		d.jpegOff += n
		if d.jpegOff < len(d.jpegSrc) {
			return EventJPEGNeedMoreOutput, true
		}
		d.phase = phaseDone
		if d.events.has(WantFullImage) {
			return EventFullImage, true
		}
		return 0, false

	case phaseDone:
		d.finishCodestream()
		return 0, false
	}
	return d.fail(errors.New("corrupt session state")), true
}

// stall converts "not enough codestream bytes" into need-more-input, or a
// hard error when no more can come.
func (d *Decoder) stall() (Event, bool) {
	if d.starved() {
		return d.fail(errors.New("codestream ended mid-section")), true
	}
	return EventNeedMoreInput, true
}

func (d *Decoder) finishCodestream() {
	if d.container && !d.csToEOF {
		// Trailing boxes may follow the codestream box.
		d.st = stateBoxHeader
		return
	}
	d.st = stateDone
}

func (d *Decoder) dispatchFrame() (Event, bool) {
	if d.frameKind == frameKindJPEG {
		raw, err := decompress(d.sections[0])
		if err != nil {
			return d.fail(err), true
		}
		d.jpegSrc = raw
		if d.events.has(WantJPEGReconstruction) {
			d.phase = phaseJPEGDeliver
			return EventJPEGReconstruction, true
		}
	}
	if d.events.has(WantFullImage) {
		d.phase = phaseAwaitBuffers
		return EventNeedImageOutBuffer, true
	}
	d.phase = phaseDone
	return 0, false
}

// --- header parsing ---

type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) need(n int) bool { return len(c.b)-c.pos >= n }

func (c *cursor) u8() byte {
	v := c.b[c.pos]
	c.pos++
	return v
}

func (c *cursor) u16() uint16 {
	v := binary.LittleEndian.Uint16(c.b[c.pos:])
	c.pos += 2
	return v
}

func (c *cursor) u32() uint32 {
	v := binary.LittleEndian.Uint32(c.b[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) f64() float64 {
	return math.Float64frombits(uint64(c.u32()) | uint64(c.u32())<<32)
}

func (c *cursor) slice(n int) []byte {
	v := c.b[c.pos : c.pos+n]
	c.pos += n
	return v
}

func (d *Decoder) parseFixedHeader() (bool, error) {
	c := cursor{b: d.cs, pos: d.csPos}
	if !c.need(fixedHeaderSize) {
		return false, nil
	}
	if c.u8() != CodestreamMarker[0] || c.u8() != CodestreamMarker[1] {
		return false, errors.New("codestream marker not found")
	}
	if v := c.u8(); v != codestreamVersion {
		return false, fmt.Errorf("unsupported codestream version %d", v)
	}
	info := &BasicInfo{
		XSize: c.u32(),
		YSize: c.u32(),
	}
	info.BitsPerSample = int(c.u8())
	info.ExponentBitsPerSample = int(c.u8())
	info.NumColorChannels = int(c.u8())
	info.NumExtraChannels = int(c.u8())
	info.AlphaBits = int(c.u8())
	info.AlphaExponentBits = int(c.u8())
	info.UsesOriginalProfile = c.u8() != 0
	d.level = int(c.u8())
	if info.XSize == 0 || info.YSize == 0 {
		return false, errors.New("zero image dimension")
	}
	d.info = info
	d.csPos = c.pos
	return true, nil
}

func (d *Decoder) parseExtraChannels() (bool, error) {
	c := cursor{b: d.cs, pos: d.csPos}
	extra := make([]ExtraChannelInfo, 0, d.info.NumExtraChannels)
	for i := 0; i < d.info.NumExtraChannels; i++ {
		if !c.need(5) {
			return false, nil
		}
		ec := ExtraChannelInfo{
			Type:                  ExtraChannelType(c.u8()),
			BitsPerSample:         int(c.u8()),
			ExponentBitsPerSample: int(c.u8()),
		}
		nameLen := int(c.u16())
		if !c.need(nameLen) {
			return false, nil
		}
		ec.Name = string(c.slice(nameLen))
		extra = append(extra, ec)
	}
	d.extra = extra
	d.csPos = c.pos
	return true, nil
}

func (d *Decoder) parseColorBlock() (bool, error) {
	c := cursor{b: d.cs, pos: d.csPos}
	if !c.need(1) {
		return false, nil
	}
	switch kind := c.u8(); kind {
	case colorKindEncoded:
		// space, wp, 2 wp coords, primaries, 6 primary coords, tf, gamma,
		// intent: 4 single bytes and 9 doubles.
		if !c.need(4 + 9*8) {
			return false, nil
		}
		enc := &ColorEncoding{}
		enc.ColorSpace = ColorSpace(c.u8())
		enc.WhitePoint = WhitePointType(c.u8())
		enc.WhitePointXY = CIExy{X: c.f64(), Y: c.f64()}
		enc.Primaries = PrimariesType(c.u8())
		enc.PrimaryRedXY = CIExy{X: c.f64(), Y: c.f64()}
		enc.PrimaryGreenXY = CIExy{X: c.f64(), Y: c.f64()}
		enc.PrimaryBlueXY = CIExy{X: c.f64(), Y: c.f64()}
		enc.TransferFunction = TransferType(c.u8())
		enc.Gamma = c.f64()
		enc.RenderingIntent = RenderingIntent(c.u8())
		d.colorEnc = enc
	case colorKindICC:
		if !c.need(4) {
			return false, nil
		}
		n := int(c.u32())
		if !c.need(n) {
			return false, nil
		}
		d.icc = append([]byte{}, c.slice(n)...)
	default:
		return false, fmt.Errorf("unknown color block kind %d", kind)
	}
	d.csPos = c.pos
	return true, nil
}

func (d *Decoder) parseFrameHeader() (bool, error) {
	c := cursor{b: d.cs, pos: d.csPos}
	if !c.need(frameHeaderSize) {
		return false, nil
	}
	d.frameKind = int(c.u8())
	d.distance = math.Float32frombits(c.u32())
	d.effort = int(c.u8())
	d.mainCh = int(c.u8())
	d.nStandalone = int(c.u8())
	if d.frameKind != frameKindPixels && d.frameKind != frameKindJPEG {
		return false, fmt.Errorf("unknown frame kind %d", d.frameKind)
	}
	d.csPos = c.pos
	return true, nil
}

func (d *Decoder) parseSections() (bool, error) {
	count := 1
	if d.frameKind == frameKindPixels {
		count = 1 + d.nStandalone
	}
	c := cursor{b: d.cs, pos: d.csPos}
	sections := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if !c.need(4) {
			return false, nil
		}
		n := int(c.u32())
		if !c.need(n) {
			return false, nil
		}
		sections = append(sections, c.slice(n))
	}
	d.sections = sections
	d.csPos = c.pos
	return true, nil
}

// --- decoded data access ---

// BasicInfo returns the parsed image header.
func (d *Decoder) BasicInfo() (BasicInfo, error) {
	if d.info == nil {
		return BasicInfo{}, errors.New("basic info not available yet")
	}
	return *d.info, nil
}

// ExtraChannelInfo describes extra channel index, 0-based across all extra
// channels.
func (d *Decoder) ExtraChannelInfo(index int) (ExtraChannelInfo, error) {
	if index < 0 || index >= len(d.extra) {
		return ExtraChannelInfo{}, fmt.Errorf("extra channel %d out of range", index)
	}
	return d.extra[index], nil
}

// ExtraChannelName returns the stored name of an extra channel.
func (d *Decoder) ExtraChannelName(index int) (string, error) {
	ec, err := d.ExtraChannelInfo(index)
	if err != nil {
		return "", err
	}
	return ec.Name, nil
}

// FrameLayout reports the channel split of the parsed frame: how many
// channels travel interleaved in the main image and how many extra
// channels travel as standalone planes. ok is false before the frame
// header has been parsed.
func (d *Decoder) FrameLayout() (mainChannels, standalone int, ok bool) {
	if d.mainCh == 0 {
		return 0, 0, false
	}
	return d.mainCh, d.nStandalone, true
}

// ColorAsEncodedProfile returns the structured color description, failing
// when the stream carries an opaque ICC profile instead.
func (d *Decoder) ColorAsEncodedProfile() (ColorEncoding, error) {
	if d.colorEnc == nil {
		return ColorEncoding{}, errors.New("color is not carried as an encoded profile")
	}
	return *d.colorEnc, nil
}

// ICCProfile returns the raw ICC profile bytes, failing when the stream
// carries a structured description instead. No profile synthesis happens.
func (d *Decoder) ICCProfile() ([]byte, error) {
	if d.icc == nil {
		return nil, errors.New("color is not carried as an ICC profile")
	}
	return append([]byte{}, d.icc...), nil
}

func (d *Decoder) nativeSampleType() (SampleType, error) {
	if d.info == nil {
		return 0, errors.New("basic info not available yet")
	}
	switch {
	case d.info.ExponentBitsPerSample == 0 && d.info.BitsPerSample <= 8:
		return SampleUint8, nil
	case d.info.ExponentBitsPerSample == 0 && d.info.BitsPerSample <= 16:
		return SampleUint16, nil
	case d.info.ExponentBitsPerSample == 8:
		return SampleFloat32, nil
	}
	return 0, fmt.Errorf("unsupported sample format (%d bits, %d exponent bits)",
		d.info.BitsPerSample, d.info.ExponentBitsPerSample)
}

// ImageOutBufferSize reports the byte size required for the interleaved main
// image buffer in the given format.
func (d *Decoder) ImageOutBufferSize(f PixelFormat) (int, error) {
	native, err := d.nativeSampleType()
	if err != nil {
		return 0, err
	}
	if f.DataType != native {
		return 0, errors.New("pixel format does not match the native sample type")
	}
	return int(d.info.XSize) * int(d.info.YSize) * f.NumChannels * f.DataType.Size(), nil
}

// SetImageOutBuffer attaches the buffer the interleaved main image is
// decoded into.
func (d *Decoder) SetImageOutBuffer(f PixelFormat, buf []byte) error {
	want, err := d.ImageOutBufferSize(f)
	if err != nil {
		return err
	}
	if len(buf) != want {
		return fmt.Errorf("image out buffer is %d bytes, want %d", len(buf), want)
	}
	d.outBuf = buf
	d.outFormat = f
	return nil
}

// ExtraChannelBufferSize reports the byte size required for one standalone
// extra channel plane.
func (d *Decoder) ExtraChannelBufferSize(f PixelFormat, index int) (int, error) {
	native, err := d.nativeSampleType()
	if err != nil {
		return 0, err
	}
	if f.DataType != native {
		return 0, errors.New("pixel format does not match the native sample type")
	}
	if index < 0 || index >= d.nStandalone {
		return 0, fmt.Errorf("standalone channel %d out of range", index)
	}
	return int(d.info.XSize) * int(d.info.YSize) * f.DataType.Size(), nil
}

// SetExtraChannelBuffer attaches the plane buffer for one standalone extra
// channel.
func (d *Decoder) SetExtraChannelBuffer(f PixelFormat, buf []byte, index int) error {
	want, err := d.ExtraChannelBufferSize(f, index)
	if err != nil {
		return err
	}
	if len(buf) != want {
		return fmt.Errorf("extra channel buffer is %d bytes, want %d", len(buf), want)
	}
	if d.extraBufs == nil {
		d.extraBufs = make([][]byte, d.nStandalone)
	}
	d.extraBufs[index] = buf
	return nil
}

// SetJPEGBuffer attaches the buffer reconstruction bytes are delivered into.
func (d *Decoder) SetJPEGBuffer(buf []byte) error {
	if len(buf) == 0 {
		return errors.New("empty JPEG buffer")
	}
	d.jpegBuf = buf
	d.jpegPos = 0
	return nil
}

// ReleaseJPEGBuffer detaches the JPEG buffer and returns the number of bytes
// in it that were not written.
func (d *Decoder) ReleaseJPEGBuffer() int {
	free := len(d.jpegBuf) - d.jpegPos
	if free < 0 {
		free = 0
	}
	d.jpegBuf = nil
	d.jpegPos = 0
	return free
}

// decodeFrame fills the attached buffers from the parsed frame sections.
func (d *Decoder) decodeFrame() error {
	if d.outBuf == nil {
		return errors.New("no image out buffer attached")
	}
	if d.outFormat.NumChannels != d.mainChannels() {
		return fmt.Errorf("image out buffer has %d channels, frame carries %d",
			d.outFormat.NumChannels, d.mainChannels())
	}
	if d.frameKind == frameKindJPEG {
		return d.decodeJPEGFrame()
	}
	for i := 0; i < d.nStandalone; i++ {
		if d.extraBufs == nil || d.extraBufs[i] == nil {
			return fmt.Errorf("standalone channel %d has no buffer attached", i)
		}
	}
	errs := make([]error, 1+d.nStandalone)
	d.pool.Run(1+d.nStandalone, func(i int) {
		var dst []byte
		if i == 0 {
			dst = d.outBuf
		} else {
			dst = d.extraBufs[i-1]
		}
		raw, err := decompress(d.sections[i])
		if err != nil {
			errs[i] = err
			return
		}
		if len(raw) != len(dst) {
			errs[i] = fmt.Errorf("frame section %d is %d bytes, want %d", i, len(raw), len(dst))
			return
		}
		copy(dst, raw)
	})
	return errors.Join(errs...)
}

func (d *Decoder) mainChannels() int { return d.mainCh }

// decodeJPEGFrame rasterizes an embedded original JPEG into the main buffer.
func (d *Decoder) decodeJPEGFrame() error {
	img, err := jpeg.Decode(bytes.NewReader(d.jpegSrc))
	if err != nil {
		return fmt.Errorf("embedded JPEG: %w", err)
	}
	if d.outFormat.DataType != SampleUint8 {
		return errors.New("embedded JPEG frames decode to 8-bit samples only")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w != int(d.info.XSize) || h != int(d.info.YSize) {
		return errors.New("embedded JPEG dimensions disagree with basic info")
	}
	switch d.outFormat.NumChannels {
	case 1:
		gray, ok := img.(*image.Gray)
		if !ok {
			gray = image.NewGray(b)
			for y := b.Min.Y; y < b.Max.Y; y++ {
				for x := b.Min.X; x < b.Max.X; x++ {
					gray.Set(x, y, img.At(x, y))
				}
			}
		}
		for y := 0; y < h; y++ {
			copy(d.outBuf[y*w:(y+1)*w], gray.Pix[y*gray.Stride:y*gray.Stride+w])
		}
	case 3:
		for y := 0; y < h; y++ {
			row := d.outBuf[y*w*3 : (y+1)*w*3]
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				row[x*3+0] = byte(r >> 8)
				row[x*3+1] = byte(g >> 8)
				row[x*3+2] = byte(bl >> 8)
			}
		}
	default:
		return fmt.Errorf("embedded JPEG frames carry 1 or 3 channels, not %d", d.outFormat.NumChannels)
	}
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
