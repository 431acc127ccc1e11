// Package imaging turns camera frames into the face crops submitted for
// verification.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/example/selfie-capture/internal/capture"
)

// ErrFaceOutsideFrame is returned when the face box does not overlap the frame.
var ErrFaceOutsideFrame = errors.New("face box outside frame")

const (
	defaultMargin  = 0.2
	defaultQuality = 90
)

// Extractor crops, scales and encodes faces. The zero value is not usable;
// call NewExtractor.
type Extractor struct {
	// Margin is added on every side, as a fraction of the larger box side.
	Margin  float64
	Quality int
}

// NewExtractor returns an extractor with production settings.
func NewExtractor() *Extractor {
	return &Extractor{Margin: defaultMargin, Quality: defaultQuality}
}

// Extract implements capture.Extractor. The reference rect describes the
// preview in the same units as box; frame pixels are scaled to match it.
func (x *Extractor) Extract(frame capture.Frame, box, reference capture.Rect, spec capture.ImageSpec) (capture.Image, error) {
	if frame.Image == nil {
		return capture.Image{}, capture.ErrNoFrame
	}
	if reference.Empty() || box.Empty() {
		return capture.Image{}, fmt.Errorf("invalid geometry: box %+v reference %+v", box, reference)
	}

	crop, err := x.cropRect(frame.Image.Bounds(), box, reference)
	if err != nil {
		return capture.Image{}, err
	}

	scaled := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), frame.Image, crop, xdraw.Src, nil)

	var out image.Image = scaled
	if spec.Greyscale {
		gray := image.NewGray(scaled.Bounds())
		draw.Draw(gray, gray.Bounds(), scaled, image.Point{}, draw.Src)
		out = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: x.Quality}); err != nil {
		return capture.Image{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return capture.Image{Data: buf.Bytes(), Spec: spec, FrameSeq: frame.Seq}, nil
}

// cropRect maps box into pixel space, squares it around its centre, pads it
// by the margin and clamps it to the frame.
func (x *Extractor) cropRect(bounds image.Rectangle, box, reference capture.Rect) (image.Rectangle, error) {
	sx := float64(bounds.Dx()) / reference.Width
	sy := float64(bounds.Dy()) / reference.Height

	cx := float64(bounds.Min.X) + (box.MidX()-reference.X)*sx
	cy := float64(bounds.Min.Y) + (box.MidY()-reference.Y)*sy
	side := math.Max(box.Width*sx, box.Height*sy) * (1 + 2*x.Margin)

	half := side / 2
	r := image.Rect(
		int(math.Round(cx-half)),
		int(math.Round(cy-half)),
		int(math.Round(cx+half)),
		int(math.Round(cy+half)),
	).Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, ErrFaceOutsideFrame
	}
	return r, nil
}

// Decode parses a JPEG or PNG frame.
func Decode(data []byte) (image.Image, error) {
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := png.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, errors.New("unsupported or invalid image format")
}
