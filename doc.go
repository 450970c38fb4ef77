// Package jpegxl reads and writes JPEG XL raster files.
//
// The package bridges an event driven codec session onto a band oriented
// raster model: Open performs a metadata-only pass over the stream and
// exposes dimensions, band layout, color information and metadata boxes;
// pixel data is decoded on first access and cached. Write serializes a
// band source into a new stream, optionally carrying XMP, EXIF and
// georeferencing boxes, and can losslessly embed an original JPEG byte
// stream so it remains reconstructible.
package jpegxl
