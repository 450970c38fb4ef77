// Package codec implements the event-driven JPEG XL-style container session
// used by the jpegxl bridge.
//
// The package exposes two opaque state machines: a Decoder, advanced one step
// at a time with ProcessInput and observed through classified events, and an
// Encoder, fed structured inputs and drained through ProcessOutput. Neither
// performs JPEG XL entropy coding; frame payloads are carried as
// zstd-compressed sample planes (optionally distance-quantized), and an
// embedded original JPEG may be stored as a frame for lossless passthrough.
//
// # Session Model
//
// A Decoder owns no I/O. The caller feeds byte chunks with SetInput and calls
// ProcessInput repeatedly; each call either consumes buffered input and
// returns a classified event (EventBasicInfo, EventBox, EventColorEncoding,
// EventNeedImageOutBuffer, EventFullImage, ...) or returns
// EventNeedMoreInput. After CloseInput, running out of data while a section
// is still incomplete is a decode error.
//
// An Encoder accumulates basic info, color information, metadata boxes and
// frame data, then serializes everything on CloseInput. ProcessOutput copies
// the serialized stream into caller-sized chunks until exhausted.
//
// # Concurrency
//
// Sessions are not safe for concurrent use. Pixel kernels (plane compression
// and quantization) fan out internally across the Pool attached with
// SetWorkerPool; all calls block until the whole frame is processed.
package codec
