package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPModel calls a remote inference server: POST {base}/predict with a JPEG
// body, answered by {"detections":[{"label","confidence","box":[x1,y1,x2,y2]}]}.
type HTTPModel struct {
	client  *resty.Client
	quality int
}

type httpPredictResponse struct {
	Detections []struct {
		Label      string     `json:"label"`
		Confidence float64    `json:"confidence"`
		Box        [4]float64 `json:"box"`
	} `json:"detections"`
}

// NewHTTPModel returns a model backed by an inference server at baseURL.
func NewHTTPModel(baseURL string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetDebug(false).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPModel{client: client, quality: 90}
}

// Predict uploads img and decodes the returned boxes.
func (m *HTTPModel) Predict(ctx context.Context, img image.Image, opts PredictOptions) ([]RawDetection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	result := &httpPredictResponse{}
	res, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetQueryParams(map[string]string{
			"conf":  strconv.FormatFloat(opts.Confidence, 'f', -1, 64),
			"imgsz": strconv.Itoa(opts.ImageSize),
		}).
		SetBody(buf.Bytes()).
		SetResult(result).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("predict request: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("predict request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}

	out := make([]RawDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		out = append(out, RawDetection{
			Label:      d.Label,
			Confidence: d.Confidence,
			X1:         d.Box[0],
			Y1:         d.Box[1],
			X2:         d.Box[2],
			Y2:         d.Box[3],
		})
	}
	return out, nil
}

// Close is a no-op; the HTTP client holds no per-model resources.
func (m *HTTPModel) Close() error {
	return nil
}
