// Package pixeldiff compares a reference render with an implementation
// render pixel by pixel over their common top-left region and produces a
// mismatch count, a ratio and a diff image.
package pixeldiff

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"

	"github.com/orisano/pixelmatch"
)

// ErrEmptyRegion is returned when either image has no pixels, so there is
// nothing to compare.
var ErrEmptyRegion = errors.New("pixeldiff: empty comparison region")

// Region is the compared area, anchored at (0,0) of both images.
type Region struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Pixels is Width*Height.
func (r Region) Pixels() int { return r.Width * r.Height }

// Result of one comparison. Diff is exactly Region-sized: mismatches in
// the highlight color, matching pixels as dimmed grayscale of the reference.
type Result struct {
	Region         Region
	Mismatched     int
	Total          int
	Ratio          float64
	Diff           *image.RGBA
	Reference      image.Point // source size of the reference
	Implementation image.Point // source size of the implementation
	Truncated      bool        // at least one image extended past Region
	// Changed bounds the mismatched pixels inside Region. Empty when
	// nothing differs.
	Changed image.Rectangle
}

// Focus returns Changed grown by pad pixels on every side and clipped to
// Region. Empty when nothing differs.
func (r *Result) Focus(pad int) image.Rectangle {
	if r.Changed.Empty() {
		return image.Rectangle{}
	}
	return r.Changed.Inset(-pad).Intersect(image.Rect(0, 0, r.Region.Width, r.Region.Height))
}

// Options tunes the comparison.
type Options struct {
	// Threshold is the per-pixel YIQ color distance tolerance in [0,1].
	// Default 0.1.
	Threshold float64
	// Alpha is the opacity of matching pixels in the diff image. Default 0.1.
	Alpha float64
	// DiffColor paints mismatches. Default red.
	DiffColor color.RGBA
	// IncludeAntiAlias counts anti-aliased pixels as mismatches.
	IncludeAntiAlias bool
	Logger           *slog.Logger
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = 0.1
	}
	if o.Alpha <= 0 {
		o.Alpha = 0.1
	}
	if o.DiffColor == (color.RGBA{}) {
		o.DiffColor = color.RGBA{R: 255, A: 255}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Comparator compares image pairs. Stateless apart from its options; safe
// for concurrent use.
type Comparator struct {
	opts Options
}

// New creates a Comparator.
func New(opts Options) *Comparator {
	opts.defaults()
	return &Comparator{opts: opts}
}

// Compare diffs ref against impl over min(width) x min(height). Pixels
// outside that region are ignored and the result is flagged Truncated.
func (c *Comparator) Compare(ref, impl image.Image) (*Result, error) {
	rb, ib := ref.Bounds(), impl.Bounds()
	region := Region{
		Width:  min(rb.Dx(), ib.Dx()),
		Height: min(rb.Dy(), ib.Dy()),
	}
	if region.Width <= 0 || region.Height <= 0 {
		return nil, ErrEmptyRegion
	}

	truncated := rb.Dx() != region.Width || rb.Dy() != region.Height ||
		ib.Dx() != region.Width || ib.Dy() != region.Height
	if truncated {
		c.opts.Logger.Info("pixeldiff: sizes differ, comparing overlapping area only",
			"reference", fmt.Sprintf("%dx%d", rb.Dx(), rb.Dy()),
			"implementation", fmt.Sprintf("%dx%d", ib.Dx(), ib.Dy()),
			"region", fmt.Sprintf("%dx%d", region.Width, region.Height))
	}

	a := crop(ref, region)
	b := crop(impl, region)

	var out image.Image
	opts := []pixelmatch.MatchOption{
		pixelmatch.Threshold(c.opts.Threshold),
		pixelmatch.Alpha(c.opts.Alpha),
		pixelmatch.DiffColor(c.opts.DiffColor),
		pixelmatch.WriteTo(&out),
	}
	if c.opts.IncludeAntiAlias {
		opts = append(opts, pixelmatch.IncludeAntiAlias)
	}
	mismatched, err := pixelmatch.MatchPixel(a, b, opts...)
	if err != nil {
		return nil, fmt.Errorf("pixeldiff: match: %w", err)
	}

	diff, ok := out.(*image.RGBA)
	if !ok || diff == nil {
		// Identical inputs take pixelmatch's fast path, which leaves the
		// output unset.
		diff = dimmed(a, c.opts.Alpha)
	}

	var changed image.Rectangle
	if mismatched > 0 {
		changed = paintedBounds(diff, c.opts.DiffColor)
	}

	total := region.Pixels()
	return &Result{
		Region:         region,
		Mismatched:     mismatched,
		Total:          total,
		Ratio:          float64(mismatched) / float64(total),
		Diff:           diff,
		Reference:      image.Pt(rb.Dx(), rb.Dy()),
		Implementation: image.Pt(ib.Dx(), ib.Dy()),
		Truncated:      truncated,
		Changed:        changed,
	}, nil
}

// paintedBounds is the bounding box of the pixels of diff painted exactly
// in c. Matching pixels are grayscale and never equal a saturated c.
func paintedBounds(diff *image.RGBA, c color.RGBA) image.Rectangle {
	b := diff.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := diff.Pix[(y-b.Min.Y)*diff.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			i := (x - b.Min.X) * 4
			if row[i] != c.R || row[i+1] != c.G || row[i+2] != c.B {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < minX {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Crop copies r, given in coordinates relative to the top-left corner of
// img, into a fresh RGBA anchored at (0,0).
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min.Add(r.Min), draw.Src)
	return dst
}

// crop copies the top-left region of img into a fresh RGBA anchored at (0,0).
func crop(img image.Image, r Region) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}

// dimmed renders img as faded grayscale the way pixelmatch paints matching
// pixels: luma blended towards white by alpha*pixelAlpha.
func dimmed(img *image.RGBA, alpha float64) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, bl, a := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2]), float64(img.Pix[i+3])
		y := r*0.29889531 + g*0.58662247 + bl*0.11448223
		v := uint8(255 + (y-255)*alpha*a/255)
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = v, v, v, 255
	}
	return out
}

// DecodePNG decodes PNG bytes.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pixeldiff: decode png: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img as PNG. Output is byte-stable for equal input.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("pixeldiff: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
