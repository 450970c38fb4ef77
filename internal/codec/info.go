package codec

// SampleType identifies the in-memory representation of one sample.
type SampleType int

const (
	// SampleUint8 is an unsigned 8-bit sample.
	SampleUint8 SampleType = iota

	// SampleUint16 is an unsigned 16-bit little-endian sample.
	SampleUint16

	// SampleFloat32 is an IEEE-754 32-bit little-endian sample.
	SampleFloat32
)

// Size returns the number of bytes one sample occupies.
func (t SampleType) Size() int {
	switch t {
	case SampleUint8:
		return 1
	case SampleUint16:
		return 2
	default:
		return 4
	}
}

// PixelFormat describes the layout of a caller-provided pixel buffer:
// NumChannels interleaved samples of DataType per pixel.
type PixelFormat struct {
	NumChannels int
	DataType    SampleType
}

// ExtraChannelType tags the role of a non-color sample plane.
type ExtraChannelType int

const (
	ChannelAlpha ExtraChannelType = iota
	ChannelDepth
	ChannelSpotColor
	ChannelSelectionMask
	ChannelBlack
	ChannelCFA
	ChannelThermal
	ChannelOptional
)

// ExtraChannelInfo describes one extra channel carried by the codestream.
type ExtraChannelInfo struct {
	Type                  ExtraChannelType
	BitsPerSample         int
	ExponentBitsPerSample int
	Name                  string
}

// BasicInfo is the fixed header describing dimensions, bit depth and channel
// layout. It is immutable once parsed from the stream.
type BasicInfo struct {
	XSize                 uint32
	YSize                 uint32
	BitsPerSample         int
	ExponentBitsPerSample int
	NumColorChannels      int
	NumExtraChannels      int
	AlphaBits             int
	AlphaExponentBits     int
	UsesOriginalProfile   bool
}
