package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// StaticDevice returns the same image on every read.
type StaticDevice struct {
	Image image.Image
}

func (d StaticDevice) Read() (image.Image, error) {
	if d.Image == nil {
		return nil, errors.New("no image")
	}
	return d.Image, nil
}

func (StaticDevice) Close() error { return nil }

// ReplayOpener serves the images in Dir in name order, looping forever.
// Used on machines without a webcam.
type ReplayOpener struct {
	Dir string
}

var replayExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Open decodes every image in the directory up front.
func (o ReplayOpener) Open(ctx context.Context) (Device, error) {
	entries, err := os.ReadDir(o.Dir)
	if err != nil {
		return nil, fmt.Errorf("replay dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && replayExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := imaging.Open(filepath.Join(o.Dir, name), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", name, err)
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("replay dir %s: no images", o.Dir)
	}
	return &ReplayDevice{frames: frames}, nil
}

// ReplayDevice cycles through preloaded frames.
type ReplayDevice struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
	closed bool
}

// NewReplayDevice plays frames in order.
func NewReplayDevice(frames ...image.Image) *ReplayDevice {
	return &ReplayDevice{frames: frames}
}

func (d *ReplayDevice) Read() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("replay device closed")
	}
	if len(d.frames) == 0 {
		return nil, errors.New("no frames")
	}
	img := d.frames[d.next]
	d.next = (d.next + 1) % len(d.frames)
	return img, nil
}

func (d *ReplayDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
