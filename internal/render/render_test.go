package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

func gray(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func TestCaption(t *testing.T) {
	d := types.Detection{ProductID: "Maggi Noodles", Confidence: 0.8712}
	assert.Equal(t, "Maggi Noodles (0.87)", Caption(d))

	labels := Labels([]types.Detection{d})
	require.Len(t, labels, 1)
	assert.Equal(t, "Maggi Noodles (0.87)", labels[0].Text)
}

func TestAnnotateDrawsBoxWithoutTouchingSource(t *testing.T) {
	src := gray(200, 150)
	box := types.BoundingBox{X1: 40, Y1: 40, X2: 120, Y2: 100}

	out := Annotate(src, []Label{{Box: box, Text: "Lux (0.90)"}}, false)
	require.Equal(t, src.Bounds(), out.Bounds())

	r, g, b, _ := out.At(80, 40).RGBA()
	assert.Greater(t, g>>8, uint32(200), "top edge is green")
	assert.Less(t, r>>8, uint32(100))
	assert.Less(t, b>>8, uint32(100))

	r, g, _, _ = out.At(80, 70).RGBA()
	assert.Equal(t, uint32(40), r>>8, "interior untouched")
	assert.Equal(t, uint32(40), g>>8)

	assert.Equal(t, color.RGBA{R: 40, G: 40, B: 40, A: 255}, src.RGBAAt(80, 40), "source not modified")
}

func TestAnnotateBanner(t *testing.T) {
	src := gray(400, 120)
	plain := Annotate(src, nil, false)
	withBanner := Annotate(src, nil, true)

	redPixels := 0
	for y := 20; y < 60; y++ {
		for x := 50; x < 330; x++ {
			r, g, _, _ := withBanner.At(x, y).RGBA()
			if r>>8 > 150 && g>>8 < 80 {
				redPixels++
			}
			pr, _, _, _ := plain.At(x, y).RGBA()
			assert.Equal(t, uint32(40), pr>>8)
		}
	}
	assert.Greater(t, redPixels, 50)
}

func TestAnnotateSkipsInvalidBoxes(t *testing.T) {
	src := gray(50, 50)
	out := Annotate(src, []Label{{Box: types.BoundingBox{X1: 30, Y1: 30, X2: 10, Y2: 10}}}, false)

	r, g, _, _ := out.At(10, 10).RGBA()
	assert.Equal(t, uint32(40), r>>8)
	assert.Equal(t, uint32(40), g>>8)
}

func TestEncodeAndPlaceholder(t *testing.T) {
	data, err := Encode(gray(32, 24), 0)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())

	ph := Placeholder()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(ph))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
	assert.Same(t, &ph[0], &Placeholder()[0], "placeholder is built once")
}
