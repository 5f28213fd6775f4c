// Package render draws detection overlays onto frames and encodes them for
// the MJPEG stream.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// DefaultQuality is the JPEG quality of streamed frames.
const DefaultQuality = 80

// NoDetectionText is drawn when nothing has been recognized for a while.
const NoDetectionText = "No products detected"

var (
	boxColor    = color.RGBA{G: 255, A: 255}
	bannerColor = color.RGBA{R: 255, A: 255}

	labelFace  font.Face
	bannerFace font.Face
)

func init() {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
	labelFace = truetype.NewFace(f, &truetype.Options{Size: 14})
	bannerFace = truetype.NewFace(f, &truetype.Options{Size: 28})
}

// Label is one box to draw with its caption.
type Label struct {
	Box  types.BoundingBox
	Text string
}

// Caption formats a detection as "Name (0.87)".
func Caption(d types.Detection) string {
	return fmt.Sprintf("%s (%.2f)", d.ProductID, d.Confidence)
}

// Labels builds overlay labels for detections.
func Labels(dets []types.Detection) []Label {
	out := make([]Label, 0, len(dets))
	for _, d := range dets {
		out = append(out, Label{Box: d.Box, Text: Caption(d)})
	}
	return out
}

// Annotate returns a copy of img with labels and, if banner is set, the
// no-detection notice drawn on it. The source image is not modified.
func Annotate(img image.Image, labels []Label, banner bool) image.Image {
	dc := gg.NewContextForImage(img)

	dc.SetFontFace(labelFace)
	for _, l := range labels {
		if !l.Box.Valid() {
			continue
		}
		r := l.Box.Rect()
		dc.SetColor(boxColor)
		dc.SetLineWidth(2)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
		dc.DrawString(l.Text, float64(r.Min.X), float64(r.Min.Y-10))
	}

	if banner {
		dc.SetFontFace(bannerFace)
		dc.SetColor(bannerColor)
		dc.DrawString(NoDetectionText, 50, 50)
	}
	return dc.Image()
}

// Encode renders img as a JPEG at the given quality.
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Placeholder returns a 640x480 color-bar JPEG shown while the camera is off.
func Placeholder() []byte {
	return placeholder()
}

var placeholder = sync.OnceValue(func() []byte {
	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	bars := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, A: 255},
		{G: 255, B: 255, A: 255},
		{G: 255, A: 255},
		{R: 255, B: 255, A: 255},
		{R: 255, A: 255},
		{B: 255, A: 255},
		{A: 255},
	}
	const w, h = 640, 480
	barWidth := float64(w / len(bars))

	dc := gg.NewContext(w, h)
	for i, c := range bars {
		dc.SetColor(c)
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth, h)
		dc.Fill()
	}

	data, err := Encode(dc.Image(), 75)
	if err != nil {
		panic(err)
	}
	return data
})
