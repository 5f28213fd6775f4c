// Package detector adapts an external object-detection model to catalog-level
// detections.
package detector

import (
	"context"
	"errors"
	"image"

	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

var (
	// ErrMalformedOutput is returned when the model answers with data the adapter cannot use.
	ErrMalformedOutput = errors.New("detector: malformed model output")
	// ErrModelFailure wraps any failure raised by the model itself.
	ErrModelFailure = errors.New("detector: model failure")
)

// Detector turns one frame into catalog detections.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// PredictOptions are passed through to the model on every call.
type PredictOptions struct {
	Confidence float64 // minimum score to report
	ImageSize  int     // model input resolution (longest side)
}

// RawDetection is one box as reported by the model, in the coordinates of the
// image it was given.
type RawDetection struct {
	Label      string
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
}

// Model is the black-box detector. Implementations need not be safe for
// concurrent use; the scheduler never runs two predictions at once.
type Model interface {
	Predict(ctx context.Context, img image.Image, opts PredictOptions) ([]RawDetection, error)
	Close() error
}
