package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/zachsussman/jpegxl"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("jxltool %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help", "":
			usage()
			return
		}
	}
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logrus.SetOutput(os.Stderr)
	if os.Getenv("JXLTOOL_LOG_LEVEL") == "debug" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var err error
	switch os.Args[1] {
	case "info":
		err = runInfo(os.Args[2:])
	case "decode":
		err = runDecode(os.Args[2:])
	case "encode":
		err = runEncode(os.Args[2:])
	case "reconstruct":
		err = runReconstruct(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "jxltool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("jxltool - inspect, decode and encode JPEG XL raster files")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  jxltool info <in.jxl>")
	fmt.Println("  jxltool decode [-width N] [-height N] <in.jxl> <out.png|out.jpg>")
	fmt.Println("  jxltool encode [-quality N] [-distance D] [-lossless] [-effort N] <in.png|in.jpg> <out.jxl>")
	fmt.Println("  jxltool reconstruct [-metadata] <in.jxl> <out.jpg>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
}

func openReader(path string) (*jpegxl.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := jpegxl.Open(jpegxl.NewByteSource(f), nil)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("info expects one input file")
	}
	r, f, err := openReader(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Printf("Size: %d x %d\n", r.Width(), r.Height())
	fmt.Printf("Bands: %d\n", r.NumBands())
	for i := 0; i < r.NumBands(); i++ {
		b := r.Band(i)
		fmt.Printf("  band %d: %s", i+1, b.Interp)
		if b.Description != "" {
			fmt.Printf(" (%s)", b.Description)
		}
		fmt.Println()
	}
	if n := r.NBits(); n != 0 {
		fmt.Printf("NBits: %d\n", n)
	}
	if r.HasJPEGReconstruction() {
		fmt.Println("JPEG reconstruction: available")
	}
	md := r.Metadata()
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, md[k])
	}
	if xmp := r.XMP(); xmp != nil {
		fmt.Printf("XMP: %d bytes\n", len(xmp))
	}
	return nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	width := fs.Int("width", 0, "resize output to this width")
	height := fs.Int("height", 0, "resize output to this height")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("decode expects an input and an output file")
	}
	r, f, err := openReader(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := toImage(r)
	if err != nil {
		return err
	}
	if *width > 0 || *height > 0 {
		w, h := *width, *height
		if w == 0 {
			w = r.Width() * h / r.Height()
		}
		if h == 0 {
			h = r.Height() * w / r.Width()
		}
		img = transform.Resize(img, w, h, transform.Linear)
	}
	return imaging.Save(img, fs.Arg(1))
}

// toImage flattens the first bands of the raster into an 8-bit image.
func toImage(r *jpegxl.Reader) (image.Image, error) {
	if r.Band(0).DataType != jpegxl.TypeByte {
		return nil, fmt.Errorf("decode to an image requires 8-bit bands")
	}
	w, h := r.Width(), r.Height()
	band := func(i int) ([]byte, error) {
		buf := make([]byte, w*h)
		return buf, r.ReadBand(i, buf)
	}
	if r.NumBands() == 1 {
		gray := image.NewGray(image.Rect(0, 0, w, h))
		buf, err := band(0)
		if err != nil {
			return nil, err
		}
		copy(gray.Pix, buf)
		return gray, nil
	}
	if r.NumBands() < 3 {
		return nil, fmt.Errorf("cannot flatten %d bands into an image", r.NumBands())
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	planes := make([][]byte, 3)
	for i := range planes {
		buf, err := band(i)
		if err != nil {
			return nil, err
		}
		planes[i] = buf
	}
	var alpha []byte
	if r.NumBands() >= 4 && r.Band(3).Interp == jpegxl.InterpAlpha {
		buf, err := band(3)
		if err != nil {
			return nil, err
		}
		alpha = buf
	}
	for i := 0; i < w*h; i++ {
		out.Pix[i*4+0] = planes[0][i]
		out.Pix[i*4+1] = planes[1][i]
		out.Pix[i*4+2] = planes[2][i]
		if alpha != nil {
			out.Pix[i*4+3] = alpha[i]
		} else {
			out.Pix[i*4+3] = 0xFF
		}
	}
	return out, nil
}

func runEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	quality := fs.Float64("quality", 0, "JPEG-style quality, 1-100")
	distance := fs.Float64("distance", 0, "quality distance, 0-25")
	lossless := fs.Bool("lossless", false, "force mathematically lossless")
	effort := fs.Int("effort", 0, "encode effort, 1-9")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("encode expects an input and an output file")
	}
	img, err := imaging.Open(fs.Arg(0))
	if err != nil {
		return err
	}

	src := sourceFromImage(img)
	opts := jpegxl.DefaultWriteOptions()
	opts.Effort = *effort
	if opts.Effort == 0 {
		opts.Effort = 5
	}
	if *lossless {
		opts.Lossless = jpegxl.Bool(true)
	}
	if *quality > 0 {
		opts.Quality = jpegxl.Float(*quality)
	}
	if *distance > 0 {
		opts.Distance = jpegxl.Float(*distance)
	}

	out, err := os.Create(fs.Arg(1))
	if err != nil {
		return err
	}
	if err := jpegxl.Write(out, src, opts); err != nil {
		out.Close()
		os.Remove(fs.Arg(1))
		return err
	}
	return out.Close()
}

// sourceFromImage splits an image into band planes, dropping the alpha
// band when it is fully opaque.
func sourceFromImage(img image.Image) *jpegxl.MemSource {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	w, h := b.Dx(), b.Dy()
	planes := make([][]byte, 4)
	for i := range planes {
		planes[i] = make([]byte, w*h)
	}
	opaque := true
	for i := 0; i < w*h; i++ {
		planes[0][i] = nrgba.Pix[i*4+0]
		planes[1][i] = nrgba.Pix[i*4+1]
		planes[2][i] = nrgba.Pix[i*4+2]
		planes[3][i] = nrgba.Pix[i*4+3]
		if planes[3][i] != 0xFF {
			opaque = false
		}
	}
	src := &jpegxl.MemSource{
		Width: w, Height: h, DataType: jpegxl.TypeByte,
		Planes:  planes,
		Interps: []jpegxl.ColorInterp{jpegxl.InterpRed, jpegxl.InterpGreen, jpegxl.InterpBlue, jpegxl.InterpAlpha},
	}
	if opaque {
		src.Planes = planes[:3]
		src.Interps = src.Interps[:3]
	}
	return src
}

func runReconstruct(args []string) error {
	fs := flag.NewFlagSet("reconstruct", flag.ExitOnError)
	withMeta := fs.Bool("metadata", false, "re-inject EXIF and XMP as APP1 segments")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("reconstruct expects an input and an output file")
	}
	r, f, err := openReader(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := r.JPEGCodestream(*withMeta)
	if err != nil {
		return err
	}
	return os.WriteFile(fs.Arg(1), data, 0o644)
}
