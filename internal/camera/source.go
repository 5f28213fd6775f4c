// Package camera owns the frame source used by the checkout pipeline: a
// device opened on demand with bounded retries and released on stop.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// ErrUnavailable is returned when no device could be opened or the source is closed.
var ErrUnavailable = errors.New("camera unavailable")

// Device is an opened frame producer.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

// Opener acquires a Device.
type Opener interface {
	Open(ctx context.Context) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Device, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context) (Device, error) { return f(ctx) }

// SourceConfig bounds device acquisition.
type SourceConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultSourceConfig returns three attempts 300ms apart.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{Attempts: 3, Backoff: 300 * time.Millisecond}
}

// Source wraps an Opener with retry, sequencing and release semantics.
// Read and Close may be called from different goroutines.
type Source struct {
	opener  Opener
	cfg     SourceConfig
	clock   clock.Clock
	metrics *metrics.Metrics

	mu  sync.Mutex
	dev Device
	seq uint64
}

// NewSource creates a closed source. A nil clock uses the wall clock.
func NewSource(opener Opener, cfg SourceConfig, clk clock.Clock, m *metrics.Metrics) *Source {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Source{opener: opener, cfg: cfg, clock: clk, metrics: m}
}

// Open acquires the device, retrying up to cfg.Attempts times. It is a no-op
// when the source is already open.
func (s *Source) Open(ctx context.Context) error {
	if s.IsOpen() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if attempt > 1 {
			timer := s.clock.Timer(s.cfg.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		dev, err := s.opener.Open(ctx)
		if err == nil {
			s.mu.Lock()
			if s.dev != nil {
				// lost a race with a concurrent Open
				s.mu.Unlock()
				return dev.Close()
			}
			s.dev = dev
			s.mu.Unlock()
			logger.Info("Camera", "Opened device (attempt %d/%d)", attempt, s.cfg.Attempts)
			return nil
		}

		lastErr = err
		s.metrics.CameraOpenFailures.Add(1)
		logger.Warn("Camera", "Open attempt %d/%d failed: %v", attempt, s.cfg.Attempts, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// Read returns the next frame. It fails fast with ErrUnavailable when closed.
func (s *Source) Read() (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return types.Frame{}, ErrUnavailable
	}
	img, err := s.dev.Read()
	if err != nil {
		s.metrics.ReadErrors.Add(1)
		return types.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	if img == nil || img.Bounds().Empty() {
		s.metrics.ReadErrors.Add(1)
		return types.Frame{}, errors.New("read frame: empty image")
	}

	s.seq++
	s.metrics.FramesRead.Add(1)
	return types.Frame{Image: img, Timestamp: s.clock.Now(), Seq: s.seq}, nil
}

// Reopen releases the device and acquires it again.
func (s *Source) Reopen(ctx context.Context) error {
	if err := s.Close(); err != nil {
		logger.Warn("Camera", "Close before reopen: %v", err)
	}
	return s.Open(ctx)
}

// Close releases the device. Closing a closed source is a no-op.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	logger.Info("Camera", "Released device")
	return err
}

// IsOpen reports whether a device is held.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil
}
