package detector

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

type fakeModel struct {
	raws    []RawDetection
	err     error
	panics  bool
	gotSize image.Rectangle
	gotOpts PredictOptions
	calls   int
}

func (f *fakeModel) Predict(_ context.Context, img image.Image, opts PredictOptions) ([]RawDetection, error) {
	f.calls++
	f.gotSize = img.Bounds()
	f.gotOpts = opts
	if f.panics {
		panic("tensor shape mismatch")
	}
	return f.raws, f.err
}

func (f *fakeModel) Close() error { return nil }

func frameOf(w, h int) types.Frame {
	return types.Frame{Image: image.NewRGBA(image.Rect(0, 0, w, h)), Timestamp: time.Now(), Seq: 1}
}

func newTestAdapter(model Model, m *metrics.Metrics) *Adapter {
	return NewAdapter(model, NewNormalizer(DefaultAliases, fullCatalog()), DefaultOptions(), m)
}

func TestDetectNormalizesAndFilters(t *testing.T) {
	model := &fakeModel{raws: []RawDetection{
		{Label: "maggi_70g_14rs_front", Confidence: 0.91, X1: 10, Y1: 20, X2: 110, Y2: 220},
		{Label: "lux_100g_35rs_back", Confidence: 0.42, X1: 0, Y1: 0, X2: 50, Y2: 50},
		{Label: "products", Confidence: 0.99, X1: 0, Y1: 0, X2: 400, Y2: 400},
		{Label: "coca_cola_500ml_40rs", Confidence: 0.88, X1: 0, Y1: 0, X2: 30, Y2: 30},
	}}
	m := metrics.New()
	a := newTestAdapter(model, m)

	dets, err := a.Detect(context.Background(), frameOf(320, 240))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, types.Detection{
		ProductID:  "Maggi Noodles",
		Label:      "maggi_70g_14rs_front",
		Confidence: 0.91,
		Box:        types.BoundingBox{X1: 10, Y1: 20, X2: 110, Y2: 220},
	}, dets[0])

	assert.Equal(t, PredictOptions{Confidence: 0.5, ImageSize: 512}, model.gotOpts)
	assert.Equal(t, uint64(2), m.UnknownLabels.Load())
}

func TestDetectEmptyFrameReturnsEmptyList(t *testing.T) {
	model := &fakeModel{}
	a := newTestAdapter(model, nil)

	for _, f := range []types.Frame{{}, {Image: image.NewRGBA(image.Rect(0, 0, 0, 0))}} {
		dets, err := a.Detect(context.Background(), f)
		require.NoError(t, err)
		assert.NotNil(t, dets)
		assert.Empty(t, dets)
	}
	assert.Zero(t, model.calls, "model is not invoked for empty frames")
}

func TestDetectScalesLargeFrames(t *testing.T) {
	model := &fakeModel{raws: []RawDetection{
		{Label: "lux_100g_35rs_front", Confidence: 0.8, X1: 100, Y1: 50, X2: 200, Y2: 150},
	}}
	a := newTestAdapter(model, nil)

	dets, err := a.Detect(context.Background(), frameOf(1024, 768))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 512, 384), model.gotSize)
	require.Len(t, dets, 1)
	assert.Equal(t, types.BoundingBox{X1: 200, Y1: 100, X2: 400, Y2: 300}, dets[0].Box)
}

func TestDetectClampsAndDropsBadBoxes(t *testing.T) {
	model := &fakeModel{raws: []RawDetection{
		{Label: "lux_100g_35rs_front", Confidence: 0.8, X1: -20, Y1: -5, X2: 400, Y2: 100},
		{Label: "pears_75g_45rs_front", Confidence: 0.8, X1: 50, Y1: 50, X2: 50, Y2: 90},
		{Label: "dove_soap_100g_65rs_front", Confidence: math.NaN(), X1: 0, Y1: 0, X2: 10, Y2: 10},
		{Label: "vim_bar_155g_20rs_front", Confidence: 0.7, X1: math.Inf(1), Y1: 0, X2: 10, Y2: 10},
		{Label: "tata_salt_1kg_28rs_front", Confidence: 0.9, X1: 90, Y1: 80, X2: 10, Y2: 20},
	}}
	a := newTestAdapter(model, nil)

	dets, err := a.Detect(context.Background(), frameOf(320, 240))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, types.BoundingBox{X1: 0, Y1: 0, X2: 320, Y2: 100}, dets[0].Box)
	assert.Equal(t, "Tata Salt", dets[1].ProductID)
	assert.Equal(t, types.BoundingBox{X1: 10, Y1: 20, X2: 90, Y2: 80}, dets[1].Box, "swapped corners are reordered")
}

func TestDetectWrapsModelErrors(t *testing.T) {
	boom := errors.New("cuda out of memory")
	a := newTestAdapter(&fakeModel{err: boom}, nil)

	dets, err := a.Detect(context.Background(), frameOf(64, 64))
	assert.Nil(t, dets)
	assert.ErrorIs(t, err, ErrModelFailure)
	assert.ErrorIs(t, err, boom)
}

func TestDetectRecoversModelPanic(t *testing.T) {
	a := newTestAdapter(&fakeModel{panics: true}, nil)

	dets, err := a.Detect(context.Background(), frameOf(64, 64))
	assert.Nil(t, dets)
	assert.ErrorIs(t, err, ErrModelFailure)
	assert.Contains(t, err.Error(), "tensor shape mismatch")
}
