package codec

// Event classifies the outcome of a single Decoder.ProcessInput step.
type Event int

const (
	// EventError indicates the session failed; Decoder.Err holds the cause.
	EventError Event = iota

	// EventSuccess indicates the stream was fully processed.
	EventSuccess

	// EventNeedMoreInput asks the caller to feed another input chunk.
	EventNeedMoreInput

	// EventBasicInfo fires once the fixed image header has been parsed.
	EventBasicInfo

	// EventBox fires at the start of each container box.
	EventBox

	// EventBoxNeedMoreOutput fires when the current box buffer is full but
	// box payload remains.
	EventBoxNeedMoreOutput

	// EventColorEncoding fires once the color block has been parsed.
	EventColorEncoding

	// EventNeedImageOutBuffer asks the caller to attach pixel buffers.
	EventNeedImageOutBuffer

	// EventFullImage fires when the whole frame has been decoded.
	EventFullImage

	// EventJPEGReconstruction fires when the frame carries an embedded
	// original JPEG and reconstruction was subscribed.
	EventJPEGReconstruction

	// EventJPEGNeedMoreOutput fires when the JPEG output buffer is full but
	// reconstruction bytes remain.
	EventJPEGNeedMoreOutput
)

var eventNames = map[Event]string{
	EventError:              "error",
	EventSuccess:            "success",
	EventNeedMoreInput:      "need-more-input",
	EventBasicInfo:          "basic-info",
	EventBox:                "box",
	EventBoxNeedMoreOutput:  "box-need-more-output",
	EventColorEncoding:      "color-encoding",
	EventNeedImageOutBuffer: "need-image-out-buffer",
	EventFullImage:          "full-image",
	EventJPEGReconstruction: "jpeg-reconstruction",
	EventJPEGNeedMoreOutput: "jpeg-need-more-output",
}

// String returns a short name for the event, for diagnostics.
func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

// EventMask selects which events a Decoder reports. Events not selected are
// handled internally and never surface.
type EventMask uint32

const (
	WantBasicInfo EventMask = 1 << iota
	WantBox
	WantColorEncoding
	WantFullImage
	WantJPEGReconstruction
)

func (m EventMask) has(want EventMask) bool { return m&want != 0 }
