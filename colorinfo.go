package jpegxl

import (
	"github.com/zachsussman/jpegxl/internal/codec"
)

// isDefaultColor reports whether an encoded color description is the
// implicit sRGB (or sRGB-gray) default and therefore not worth surfacing
// as metadata. Primaries are not meaningful for gray or XYB spaces and are
// skipped there.
func isDefaultColor(enc codec.ColorEncoding, gray bool) bool {
	def := codec.SRGBEncoding(gray)
	if enc.ColorSpace != def.ColorSpace ||
		enc.WhitePoint != def.WhitePoint ||
		enc.TransferFunction != def.TransferFunction ||
		enc.RenderingIntent != def.RenderingIntent {
		return false
	}
	if enc.WhitePoint == codec.WhitePointCustom && enc.WhitePointXY != def.WhitePointXY {
		return false
	}
	if enc.ColorSpace == codec.SpaceGray || enc.ColorSpace == codec.SpaceXYB {
		return true
	}
	if enc.Primaries != def.Primaries {
		return false
	}
	if enc.Primaries == codec.PrimariesCustom &&
		(enc.PrimaryRedXY != def.PrimaryRedXY ||
			enc.PrimaryGreenXY != def.PrimaryGreenXY ||
			enc.PrimaryBlueXY != def.PrimaryBlueXY) {
		return false
	}
	return true
}

func colorSpaceName(s codec.ColorSpace) string {
	switch s {
	case codec.SpaceRGB:
		return "RGB"
	case codec.SpaceGray:
		return "Gray"
	case codec.SpaceXYB:
		return "XYB"
	default:
		return "Unknown"
	}
}

func whitePointName(w codec.WhitePointType) string {
	switch w {
	case codec.WhitePointD65:
		return "D65"
	case codec.WhitePointE:
		return "E"
	case codec.WhitePointDCI:
		return "DCI"
	default:
		return "Custom"
	}
}

func primariesName(p codec.PrimariesType) string {
	switch p {
	case codec.PrimariesSRGB:
		return "sRGB"
	case codec.Primaries2100:
		return "BT.2100"
	case codec.PrimariesP3:
		return "P3"
	default:
		return "Custom"
	}
}

func transferName(t codec.TransferType) string {
	switch t {
	case codec.TransferSRGB:
		return "sRGB"
	case codec.TransferLinear:
		return "Linear"
	case codec.Transfer709:
		return "BT.709"
	case codec.TransferPQ:
		return "PQ"
	case codec.TransferDCI:
		return "DCI"
	case codec.TransferHLG:
		return "HLG"
	default:
		return "Gamma"
	}
}
