package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
)

type countingDevice struct {
	StaticDevice
	closed atomic.Int32
}

func (d *countingDevice) Close() error {
	d.closed.Add(1)
	return nil
}

func solid(w, h int) image.Image {
	return imaging.New(w, h, color.NRGBA{R: 200, A: 255})
}

// flakyOpener fails the first n opens.
func flakyOpener(n int, dev Device) (Opener, *atomic.Int32) {
	calls := &atomic.Int32{}
	return OpenerFunc(func(context.Context) (Device, error) {
		if int(calls.Add(1)) <= n {
			return nil, errors.New("device busy")
		}
		return dev, nil
	}), calls
}

// openWithMock runs Open while advancing the mock clock until it returns.
func openWithMock(t *testing.T, s *Source, mock *clock.Mock, step time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background()) }()
	for {
		select {
		case err := <-done:
			return err
		case <-time.After(time.Millisecond):
			mock.Add(step)
		}
	}
}

func TestSourceOpenRetriesThenSucceeds(t *testing.T) {
	mock := clock.NewMock()
	m := metrics.New()
	dev := &countingDevice{StaticDevice: StaticDevice{Image: solid(8, 8)}}
	opener, calls := flakyOpener(2, dev)
	s := NewSource(opener, DefaultSourceConfig(), mock, m)

	require.NoError(t, openWithMock(t, s, mock, 300*time.Millisecond))
	assert.True(t, s.IsOpen())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(2), m.CameraOpenFailures.Load())

	// already open
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSourceOpenGivesUp(t *testing.T) {
	mock := clock.NewMock()
	opener, calls := flakyOpener(10, nil)
	s := NewSource(opener, DefaultSourceConfig(), mock, nil)

	start := mock.Now()
	err := openWithMock(t, s, mock, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "device busy")
	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, s.IsOpen())
	assert.GreaterOrEqual(t, mock.Now().Sub(start), 600*time.Millisecond, "two backoffs between three attempts")
}

func TestSourceOpenHonorsContext(t *testing.T) {
	opener, calls := flakyOpener(10, nil)
	s := NewSource(opener, SourceConfig{Attempts: 3, Backoff: time.Hour}, clock.NewMock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Open(ctx) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after cancel")
	}
}

func TestSourceReadSequencesFrames(t *testing.T) {
	mock := clock.NewMock()
	m := metrics.New()
	s := NewSource(OpenerFunc(func(context.Context) (Device, error) {
		return StaticDevice{Image: solid(4, 3)}, nil
	}), DefaultSourceConfig(), mock, m)

	_, err := s.Read()
	assert.ErrorIs(t, err, ErrUnavailable, "closed source fails fast")

	require.NoError(t, s.Open(context.Background()))
	f1, err := s.Read()
	require.NoError(t, err)
	mock.Add(250 * time.Millisecond)
	f2, err := s.Read()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, uint64(2), f2.Seq)
	assert.Equal(t, 250*time.Millisecond, f2.Timestamp.Sub(f1.Timestamp))
	assert.Equal(t, image.Rect(0, 0, 4, 3), f1.Image.Bounds())
	assert.Equal(t, uint64(2), m.FramesRead.Load())
}

func TestSourceReadFailure(t *testing.T) {
	m := metrics.New()
	s := NewSource(OpenerFunc(func(context.Context) (Device, error) {
		return StaticDevice{}, nil
	}), DefaultSourceConfig(), nil, m)
	require.NoError(t, s.Open(context.Background()))

	_, err := s.Read()
	assert.Error(t, err)
	assert.Equal(t, uint64(1), m.ReadErrors.Load())
}

func TestSourceCloseAndReopen(t *testing.T) {
	dev := &countingDevice{StaticDevice: StaticDevice{Image: solid(2, 2)}}
	opens := 0
	s := NewSource(OpenerFunc(func(context.Context) (Device, error) {
		opens++
		return dev, nil
	}), DefaultSourceConfig(), nil, nil)

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Reopen(context.Background()))
	assert.Equal(t, 2, opens)
	assert.Equal(t, int32(1), dev.closed.Load())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, int32(2), dev.closed.Load(), "second close is a no-op")
	assert.False(t, s.IsOpen())
}

func TestReplayOpener(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imaging.Save(solid(6, 4), filepath.Join(dir, "b.png")))
	require.NoError(t, imaging.Save(solid(3, 2), filepath.Join(dir, "a.jpg")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	dev, err := ReplayOpener{Dir: dir}.Open(context.Background())
	require.NoError(t, err)

	sizes := make([]image.Rectangle, 0, 3)
	for i := 0; i < 3; i++ {
		img, err := dev.Read()
		require.NoError(t, err)
		sizes = append(sizes, img.Bounds())
	}
	assert.Equal(t, []image.Rectangle{image.Rect(0, 0, 3, 2), image.Rect(0, 0, 6, 4), image.Rect(0, 0, 3, 2)}, sizes)

	require.NoError(t, dev.Close())
	_, err = dev.Read()
	assert.Error(t, err)
}

func TestReplayOpenerEmptyDir(t *testing.T) {
	_, err := ReplayOpener{Dir: t.TempDir()}.Open(context.Background())
	assert.Error(t, err)
}
