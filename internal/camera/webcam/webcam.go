// Package webcam opens a local capture device through OpenCV.
package webcam

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/camera"
)

// Opener opens capture device Index, requesting Width x Height when set.
type Opener struct {
	Index  int
	Width  int
	Height int
}

// Open implements camera.Opener.
func (o Opener) Open(ctx context.Context) (camera.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := gocv.OpenVideoCapture(o.Index)
	if err != nil {
		return nil, fmt.Errorf("open webcam %d: %w", o.Index, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("open webcam %d: device not opened", o.Index)
	}
	if o.Width > 0 && o.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(o.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(o.Height))
	}
	return &device{index: o.Index, vc: vc, mat: gocv.NewMat()}, nil
}

type device struct {
	index int
	vc    *gocv.VideoCapture
	mat   gocv.Mat
}

func (d *device) Read() (image.Image, error) {
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, fmt.Errorf("cannot read webcam device: %d", d.index)
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	if img == nil {
		return nil, errors.New("convert frame: nil image")
	}
	return img, nil
}

func (d *device) Close() error {
	return multierr.Combine(d.mat.Close(), d.vc.Close())
}
