package codec

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// drain pulls the whole serialized stream out of an encoder in small spans
// to exercise the chunked output path.
func drain(t *testing.T, enc *Encoder) []byte {
	t.Helper()
	require.NoError(t, enc.CloseInput())
	var out []byte
	buf := make([]byte, 37)
	for {
		n, more, err := enc.ProcessOutput(buf)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
		if !more {
			return out
		}
	}
}

// feed runs a decode session over stream, handing input over in chunks and
// collecting everything the session reports. Box payloads are captured into
// growable buffers keyed by decompressed type.
type feedResult struct {
	events []Event
	info   BasicInfo
	boxes  map[string][]byte
	image  []byte
	jpeg   []byte
}

func feed(t *testing.T, stream []byte, mask EventMask, chunk int, format PixelFormat, extraBufs [][]byte) feedResult {
	t.Helper()
	d := NewDecoder()
	d.SetDecompressBoxes(true)
	d.SubscribeEvents(mask)
	res := feedResult{boxes: map[string][]byte{}}
	var boxName string
	var boxBuf []byte
	finishBox := func() {
		if boxBuf == nil {
			return
		}
		used := len(boxBuf) - d.ReleaseBoxBuffer()
		res.boxes[boxName] = boxBuf[:used]
		boxBuf = nil
	}
	off := 0
	for {
		ev := d.ProcessInput()
		res.events = append(res.events, ev)
		switch ev {
		case EventNeedMoreInput:
			if off >= len(stream) {
				d.CloseInput()
				continue
			}
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			require.NoError(t, d.SetInput(stream[off:end]))
			off = end
		case EventBasicInfo:
			info, err := d.BasicInfo()
			require.NoError(t, err)
			res.info = info
		case EventBox:
			finishBox()
			name, err := d.BoxType(true)
			require.NoError(t, err)
			boxName = name
			raw, err := d.BoxSizeRaw()
			require.NoError(t, err)
			size := int(raw)
			if size == 0 {
				size = 64
			}
			boxBuf = make([]byte, size)
			require.NoError(t, d.SetBoxBuffer(boxBuf))
		case EventBoxNeedMoreOutput:
			used := len(boxBuf) - d.ReleaseBoxBuffer()
			grown := make([]byte, len(boxBuf)*2)
			copy(grown, boxBuf[:used])
			boxBuf = grown
			require.NoError(t, d.SetBoxBuffer(boxBuf[used:]))
		case EventNeedImageOutBuffer:
			size, err := d.ImageOutBufferSize(format)
			require.NoError(t, err)
			res.image = make([]byte, size)
			require.NoError(t, d.SetImageOutBuffer(format, res.image))
			for i, eb := range extraBufs {
				require.NoError(t, d.SetExtraChannelBuffer(PixelFormat{NumChannels: 1, DataType: format.DataType}, eb, i))
			}
		case EventJPEGReconstruction:
			res.jpeg = make([]byte, 16)
			require.NoError(t, d.SetJPEGBuffer(res.jpeg))
		case EventJPEGNeedMoreOutput:
			used := len(res.jpeg) - d.ReleaseJPEGBuffer()
			grown := make([]byte, len(res.jpeg)*2)
			copy(grown, res.jpeg[:used])
			res.jpeg = grown
			require.NoError(t, d.SetJPEGBuffer(res.jpeg[used:]))
		case EventColorEncoding, EventFullImage:
		case EventSuccess:
			finishBox()
			if res.jpeg != nil {
				res.jpeg = res.jpeg[:len(res.jpeg)-d.ReleaseJPEGBuffer()]
			}
			return res
		case EventError:
			t.Fatalf("decode failed: %v", d.Err())
		}
	}
}

func TestRoundTripUint8RGB(t *testing.T) {
	const w, h = 33, 17
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = byte(i * 7)
	}
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: w, YSize: h, BitsPerSample: 8, NumColorChannels: 3,
	}))
	enc.FrameSettings().SetLossless(true)
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 3, DataType: SampleUint8}, pix))
	stream := drain(t, enc)

	require.True(t, bytes.HasPrefix(stream, CodestreamMarker), "boxless session writes a bare codestream")

	res := feed(t, stream, WantBasicInfo|WantColorEncoding|WantFullImage, 11,
		PixelFormat{NumChannels: 3, DataType: SampleUint8}, nil)
	require.Equal(t, uint32(w), res.info.XSize)
	require.Equal(t, uint32(h), res.info.YSize)
	require.Equal(t, 3, res.info.NumColorChannels)
	require.Equal(t, pix, res.image)
}

func TestRoundTripUint16WithStandalonePlane(t *testing.T) {
	const w, h = 9, 5
	pix := make([]byte, w*h*2)
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint16(pix[i*2:], uint16(i*613))
	}
	plane := make([]byte, w*h*2)
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint16(plane[i*2:], uint16(i*101))
	}
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: w, YSize: h, BitsPerSample: 16, NumColorChannels: 1, NumExtraChannels: 1,
	}))
	require.NoError(t, enc.SetExtraChannelInfo(0, ExtraChannelInfo{
		Type: ChannelOptional, BitsPerSample: 16, Name: "elevation",
	}))
	enc.FrameSettings().SetLossless(true)
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 1, DataType: SampleUint16}, pix))
	require.NoError(t, enc.SetExtraChannelBuffer(PixelFormat{NumChannels: 1, DataType: SampleUint16}, plane, 0))
	stream := drain(t, enc)

	got := make([]byte, w*h*2)
	res := feed(t, stream, WantBasicInfo|WantFullImage, 64,
		PixelFormat{NumChannels: 1, DataType: SampleUint16}, [][]byte{got})
	require.Equal(t, pix, res.image)
	require.Equal(t, plane, got)
	require.Equal(t, 1, res.info.NumExtraChannels)
}

func TestRoundTripFloat32(t *testing.T) {
	const w, h = 7, 7
	pix := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint32(pix[i*4:], math.Float32bits(float32(i)*0.125))
	}
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: w, YSize: h, BitsPerSample: 32, ExponentBitsPerSample: 8, NumColorChannels: 1,
	}))
	enc.FrameSettings().SetLossless(true)
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 1, DataType: SampleFloat32}, pix))
	stream := drain(t, enc)

	res := feed(t, stream, WantFullImage, 256,
		PixelFormat{NumChannels: 1, DataType: SampleFloat32}, nil)
	require.Equal(t, pix, res.image)
}

func TestLossyBoundedError(t *testing.T) {
	const w, h = 16, 16
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = byte(i)
	}
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: w, YSize: h, BitsPerSample: 8, NumColorChannels: 1,
	}))
	require.NoError(t, enc.FrameSettings().SetDistance(3))
	stream := func() []byte {
		require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 1, DataType: SampleUint8}, pix))
		return drain(t, enc)
	}()

	res := feed(t, stream, WantFullImage, 128,
		PixelFormat{NumChannels: 1, DataType: SampleUint8}, nil)
	for i := range pix {
		diff := int(pix[i]) - int(res.image[i])
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, 6, "sample %d drifted too far", i)
	}
}

func TestContainerBoxesAndCompressedBox(t *testing.T) {
	const w, h = 4, 4
	pix := make([]byte, w*h)
	xmp := []byte("<?xpacket begin=\"\"?><x:xmpmeta/>")
	exifPayload := append([]byte{0, 0, 0, 0}, bytes.Repeat([]byte{0xAB}, 40)...)

	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: w, YSize: h, BitsPerSample: 8, NumColorChannels: 1,
	}))
	enc.FrameSettings().SetLossless(true)
	enc.UseBoxes()
	require.NoError(t, enc.AddBox("xml ", xmp, false))
	require.NoError(t, enc.AddBox("Exif", exifPayload, true))
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 1, DataType: SampleUint8}, pix))
	stream := drain(t, enc)

	require.True(t, bytes.HasPrefix(stream, ContainerSignature))

	res := feed(t, stream, WantBasicInfo|WantBox|WantFullImage, 23,
		PixelFormat{NumChannels: 1, DataType: SampleUint8}, nil)
	require.Equal(t, xmp, res.boxes["xml "])
	require.Equal(t, exifPayload, res.boxes["Exif"])
	require.Equal(t, pix, res.image)
}

func TestDeclinedBoxPayloadIsNotBuffered(t *testing.T) {
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: 2, YSize: 2, BitsPerSample: 8, NumColorChannels: 1,
	}))
	enc.FrameSettings().SetLossless(true)
	enc.UseBoxes()
	require.NoError(t, enc.AddBox("junk", bytes.Repeat([]byte{0x5A}, 4096), false))
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 1, DataType: SampleUint8}, make([]byte, 4)))
	stream := drain(t, enc)

	d := NewDecoder()
	d.SubscribeEvents(WantBasicInfo | WantBox)
	off := 0
	sawJunk := false
	for {
		ev := d.ProcessInput()
		switch ev {
		case EventNeedMoreInput:
			if off >= len(stream) {
				d.CloseInput()
				continue
			}
			end := off + 128
			if end > len(stream) {
				end = len(stream)
			}
			require.NoError(t, d.SetInput(stream[off:end]))
			off = end
		case EventBox:
			// No buffer is ever attached, so every payload is declined.
			name, err := d.BoxType(true)
			require.NoError(t, err)
			if name == "junk" {
				sawJunk = true
			}
		case EventSuccess:
			require.True(t, sawJunk)
			return
		case EventError:
			t.Fatalf("decode failed: %v", d.Err())
		}
		require.Empty(t, d.boxAccum, "declined box payload accumulated")
	}
}

func TestJPEGFrameReconstruction(t *testing.T) {
	img := image.NewYCbCr(image.Rect(0, 0, 24, 12), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = byte(i * 3)
	}
	var jbuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jbuf, img, nil))
	original := jbuf.Bytes()

	enc := NewEncoder()
	require.NoError(t, enc.AddJPEGFrame(original))
	enc.StoreJPEGMetadata(true)
	stream := drain(t, enc)

	require.True(t, bytes.HasPrefix(stream, ContainerSignature),
		"reconstruction metadata forces the boxed container")

	res := feed(t, stream, WantBox|WantJPEGReconstruction, 97, PixelFormat{}, nil)
	_, hasRecon := res.boxes["jbrd"]
	require.True(t, hasRecon)
	require.Equal(t, original, res.jpeg, "reconstruction must return the original bytes")
}

func TestJPEGFramePixelDecode(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = byte(i * 4)
	}
	var jbuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jbuf, img, &jpeg.Options{Quality: 95}))

	enc := NewEncoder()
	require.NoError(t, enc.AddJPEGFrame(jbuf.Bytes()))
	stream := drain(t, enc)

	res := feed(t, stream, WantBasicInfo|WantFullImage, 50,
		PixelFormat{NumChannels: 1, DataType: SampleUint8}, nil)
	require.Equal(t, 1, res.info.NumColorChannels)
	require.Len(t, res.image, 64)
}

func TestIdentifyNeedsMoreInputOnShortPrefix(t *testing.T) {
	d := NewDecoder()
	d.SubscribeEvents(WantBasicInfo)
	require.NoError(t, d.SetInput(ContainerSignature[:6]))
	require.Equal(t, EventNeedMoreInput, d.ProcessInput())
}

func TestGarbageIsRejected(t *testing.T) {
	d := NewDecoder()
	d.SubscribeEvents(WantBasicInfo)
	require.NoError(t, d.SetInput(bytes.Repeat([]byte{0x55}, 64)))
	require.Equal(t, EventError, d.ProcessInput())
	require.Error(t, d.Err())
}

func TestRewindAllowsSecondPass(t *testing.T) {
	const w, h = 5, 3
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = byte(200 - i)
	}
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: w, YSize: h, BitsPerSample: 8, NumColorChannels: 1,
	}))
	enc.FrameSettings().SetLossless(true)
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 1, DataType: SampleUint8}, pix))
	stream := drain(t, enc)

	d := NewDecoder()
	d.SubscribeEvents(WantBasicInfo)
	require.NoError(t, d.SetInput(stream))
	require.Equal(t, EventBasicInfo, d.ProcessInput())

	d.Rewind()
	d.SubscribeEvents(WantFullImage)
	require.NoError(t, d.SetInput(stream))
	var got []byte
	for {
		ev := d.ProcessInput()
		switch ev {
		case EventNeedImageOutBuffer:
			size, err := d.ImageOutBufferSize(PixelFormat{NumChannels: 1, DataType: SampleUint8})
			require.NoError(t, err)
			got = make([]byte, size)
			require.NoError(t, d.SetImageOutBuffer(PixelFormat{NumChannels: 1, DataType: SampleUint8}, got))
		case EventNeedMoreInput:
			d.CloseInput()
		case EventSuccess:
			require.Equal(t, pix, got)
			return
		case EventError:
			t.Fatalf("second pass failed: %v", d.Err())
		default:
		}
	}
}

func TestSuggestThreads(t *testing.T) {
	require.Equal(t, uint32(1), SuggestThreads(1, 1))
	require.Equal(t, uint32(1), SuggestThreads(256, 256))
	require.Equal(t, uint32(4), SuggestThreads(512, 512))
	require.Equal(t, uint32(1024), SuggestThreads(1<<16, 1<<16))
}

func TestLosslessDistanceIsZeroOnWire(t *testing.T) {
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: 2, YSize: 2, BitsPerSample: 8, NumColorChannels: 1,
	}))
	require.NoError(t, enc.FrameSettings().SetDistance(5))
	enc.FrameSettings().SetLossless(true)
	pix := []byte{1, 2, 3, 4}
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 1, DataType: SampleUint8}, pix))
	stream := drain(t, enc)

	res := feed(t, stream, WantFullImage, 512,
		PixelFormat{NumChannels: 1, DataType: SampleUint8}, nil)
	require.Equal(t, pix, res.image)
}

func TestDefaultColorIsSRGB(t *testing.T) {
	enc := NewEncoder()
	require.NoError(t, enc.SetBasicInfo(BasicInfo{
		XSize: 1, YSize: 1, BitsPerSample: 8, NumColorChannels: 3,
	}))
	enc.FrameSettings().SetLossless(true)
	require.NoError(t, enc.AddImageFrame(PixelFormat{NumChannels: 3, DataType: SampleUint8}, []byte{0, 0, 0}))
	stream := drain(t, enc)

	d := NewDecoder()
	d.SubscribeEvents(WantColorEncoding)
	require.NoError(t, d.SetInput(stream))
	for {
		ev := d.ProcessInput()
		require.NotEqual(t, EventError, ev, "decode failed: %v", d.Err())
		if ev == EventColorEncoding {
			break
		}
	}
	got, err := d.ColorAsEncodedProfile()
	require.NoError(t, err)
	require.Equal(t, SRGBEncoding(false), got)
	_, err = d.ICCProfile()
	require.Error(t, err, "no ICC profile when the color is structured")

	srgb := SRGBEncoding(false)
	require.InDelta(t, 0.3127, srgb.WhitePointXY.X, 0.001)
	require.InDelta(t, 0.3290, srgb.WhitePointXY.Y, 0.001)
}

func TestColorGray(t *testing.T) {
	enc := SRGBEncoding(true)
	require.Equal(t, SpaceGray, enc.ColorSpace)
}
