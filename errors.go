package jpegxl

import "errors"

var (
	// ErrProtocol reports a malformed or unrecognized stream.
	ErrProtocol = errors.New("jpegxl: malformed stream")

	// ErrTruncated reports a stream that ended before the decoder was done.
	ErrTruncated = errors.New("jpegxl: truncated stream")

	// ErrCapacity reports an image too large for its pixel buffers to be
	// allocated.
	ErrCapacity = errors.New("jpegxl: image exceeds addressable size")

	// ErrConfig reports contradictory or out of range write options.
	ErrConfig = errors.New("jpegxl: invalid configuration")

	// ErrUnsupportedType reports a sample layout the raster model cannot
	// represent.
	ErrUnsupportedType = errors.New("jpegxl: unsupported sample type")
)
