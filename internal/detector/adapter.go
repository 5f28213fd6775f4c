package detector

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// Options configure the adapter.
type Options struct {
	Confidence float64 // default 0.5
	ImageSize  int     // default 512
}

// DefaultOptions matches the thresholds the model was tuned with.
func DefaultOptions() Options {
	return Options{Confidence: 0.5, ImageSize: 512}
}

// Adapter runs a Model on frames and returns catalog detections.
type Adapter struct {
	model      Model
	normalizer *Normalizer
	opts       Options
	metrics    *metrics.Metrics
}

// NewAdapter wraps model. A nil metrics gets a private instance.
func NewAdapter(model Model, normalizer *Normalizer, opts Options, m *metrics.Metrics) *Adapter {
	def := DefaultOptions()
	if opts.Confidence <= 0 {
		opts.Confidence = def.Confidence
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = def.ImageSize
	}
	if m == nil {
		m = metrics.New()
	}
	return &Adapter{model: model, normalizer: normalizer, opts: opts, metrics: m}
}

// Detect runs the model once. Empty frames yield no detections and no error.
// Labels that do not resolve to a catalog product are dropped.
func (a *Adapter) Detect(ctx context.Context, frame types.Frame) (dets []types.Detection, err error) {
	if frame.Empty() {
		logger.Debug("Detector", "Skipping empty frame %d", frame.Seq)
		return []types.Detection{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			dets = nil
			err = fmt.Errorf("%w: panic: %v", ErrModelFailure, r)
		}
	}()

	input, scaleX, scaleY := a.prepare(frame.Image)
	raws, err := a.model.Predict(ctx, input, PredictOptions{
		Confidence: a.opts.Confidence,
		ImageSize:  a.opts.ImageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelFailure, err)
	}

	bounds := frame.Image.Bounds()
	dets = make([]types.Detection, 0, len(raws))
	for _, raw := range raws {
		if math.IsNaN(raw.Confidence) || raw.Confidence < 0 || raw.Confidence > 1 {
			logger.Debug("Detector", "Dropping %q: confidence %v out of range", raw.Label, raw.Confidence)
			continue
		}
		if raw.Confidence < a.opts.Confidence {
			continue
		}

		productID, ok := a.normalizer.Normalize(raw.Label)
		if !ok {
			a.metrics.UnknownLabels.Add(1)
			logger.Debug("Detector", "Misidentified product %q (not in catalog, conf=%.2f)", raw.Label, raw.Confidence)
			continue
		}

		box, ok := toFrameBox(raw, scaleX, scaleY, bounds)
		if !ok {
			logger.Debug("Detector", "Dropping %q: degenerate box (%.1f,%.1f)-(%.1f,%.1f)",
				raw.Label, raw.X1, raw.Y1, raw.X2, raw.Y2)
			continue
		}

		dets = append(dets, types.Detection{
			ProductID:  productID,
			Label:      raw.Label,
			Confidence: raw.Confidence,
			Box:        box,
		})
	}
	return dets, nil
}

// prepare downsizes img so its longest side fits the model input and returns
// the factors that map model coordinates back to frame coordinates.
func (a *Adapter) prepare(img image.Image) (image.Image, float64, float64) {
	b := img.Bounds()
	if b.Dx() <= a.opts.ImageSize && b.Dy() <= a.opts.ImageSize {
		return img, 1, 1
	}
	resized := imaging.Fit(img, a.opts.ImageSize, a.opts.ImageSize, imaging.Linear)
	rb := resized.Bounds()
	return resized, float64(b.Dx()) / float64(rb.Dx()), float64(b.Dy()) / float64(rb.Dy())
}

func toFrameBox(raw RawDetection, sx, sy float64, bounds image.Rectangle) (types.BoundingBox, bool) {
	for _, v := range []float64{raw.X1, raw.Y1, raw.X2, raw.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.BoundingBox{}, false
		}
	}
	x1, x2 := math.Min(raw.X1, raw.X2), math.Max(raw.X1, raw.X2)
	y1, y2 := math.Min(raw.Y1, raw.Y2), math.Max(raw.Y1, raw.Y2)

	box := types.BoundingBox{
		X1: clamp(int(math.Round(x1*sx))+bounds.Min.X, bounds.Min.X, bounds.Max.X),
		Y1: clamp(int(math.Round(y1*sy))+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y),
		X2: clamp(int(math.Round(x2*sx))+bounds.Min.X, bounds.Min.X, bounds.Max.X),
		Y2: clamp(int(math.Round(y2*sy))+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y),
	}
	return box, box.Valid()
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Close releases the underlying model.
func (a *Adapter) Close() error {
	return a.model.Close()
}
