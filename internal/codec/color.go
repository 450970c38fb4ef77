package codec

import (
	colorful "github.com/lucasb-eyer/go-colorful"
)

// ColorSpace enumerates the color model of the image samples.
type ColorSpace int

const (
	SpaceRGB ColorSpace = iota
	SpaceGray
	SpaceXYB
	SpaceUnknown
)

// WhitePointType enumerates known white points.
type WhitePointType int

const (
	WhitePointD65 WhitePointType = iota
	WhitePointCustom
	WhitePointE
	WhitePointDCI
)

// PrimariesType enumerates known primary sets.
type PrimariesType int

const (
	PrimariesSRGB PrimariesType = iota
	PrimariesCustom
	Primaries2100
	PrimariesP3
)

// TransferType enumerates transfer functions.
type TransferType int

const (
	TransferSRGB TransferType = iota
	TransferLinear
	Transfer709
	TransferPQ
	TransferDCI
	TransferHLG
	TransferGamma
)

// RenderingIntent enumerates ICC rendering intents.
type RenderingIntent int

const (
	IntentPerceptual RenderingIntent = iota
	IntentRelative
	IntentSaturation
	IntentAbsolute
)

// CIExy is a chromaticity coordinate.
type CIExy struct {
	X float64
	Y float64
}

// ColorEncoding is the structured description of a color profile, the
// counterpart of an opaque ICC blob. Two encodings describe the same profile
// exactly when all fields compare equal.
type ColorEncoding struct {
	ColorSpace       ColorSpace
	WhitePoint       WhitePointType
	WhitePointXY     CIExy
	Primaries        PrimariesType
	PrimaryRedXY     CIExy
	PrimaryGreenXY   CIExy
	PrimaryBlueXY    CIExy
	TransferFunction TransferType
	Gamma            float64
	RenderingIntent  RenderingIntent
}

// d65Chromaticity derives the D65 white point chromaticity from the CIE XYZ
// reference white rather than hard-coding it.
func d65Chromaticity() CIExy {
	x, y, _ := colorful.XyzToXyy(colorful.D65[0], colorful.D65[1], colorful.D65[2])
	return CIExy{X: x, Y: y}
}

// SRGBEncoding returns the canonical sRGB description, or the sRGB-gray
// description when gray is true. This is the implicit default profile a
// stream carries when no explicit color information was installed.
func SRGBEncoding(gray bool) ColorEncoding {
	enc := ColorEncoding{
		ColorSpace:       SpaceRGB,
		WhitePoint:       WhitePointD65,
		WhitePointXY:     d65Chromaticity(),
		Primaries:        PrimariesSRGB,
		PrimaryRedXY:     CIExy{X: 0.640, Y: 0.330},
		PrimaryGreenXY:   CIExy{X: 0.300, Y: 0.600},
		PrimaryBlueXY:    CIExy{X: 0.150, Y: 0.060},
		TransferFunction: TransferSRGB,
		Gamma:            0,
		RenderingIntent:  IntentRelative,
	}
	if gray {
		enc.ColorSpace = SpaceGray
	}
	return enc
}
