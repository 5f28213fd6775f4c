package types

import (
	"image"
	"time"
)

// Frame is a single camera sample with its capture metadata.
// The image is never mutated after capture; consumers draw on copies.
type Frame struct {
	Image     image.Image // Decoded camera image
	Timestamp time.Time   // Frame capture timestamp
	Seq       uint64      // Sequential frame number within a camera session
}

// Empty reports whether the frame carries no usable pixels.
func (f Frame) Empty() bool {
	return f.Image == nil || f.Image.Bounds().Empty()
}

// BoundingBox is a pixel-space box. A valid box has X1<X2 and Y1<Y2.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid reports whether the box has positive area.
func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one normalized detector hit.
type Detection struct {
	ProductID  string      `json:"product_id"` // Catalog key
	Label      string      `json:"label"`      // Raw model class name
	Confidence float64     `json:"confidence"` // 0.0 - 1.0
	Box        BoundingBox `json:"bbox"`
}
