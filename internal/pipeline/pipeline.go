// Package pipeline drives the live checkout loop: frames are read at a fixed
// rate, every Nth frame is offered to a single background detector worker,
// and the latest result is drawn over the current frame for streaming.
// Completed results flow through the debounce filter into the cart.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/cart"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/detector"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/render"
	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// reopenAfter is the number of consecutive read failures before the device
// is reopened.
const reopenAfter = 3

// Camera is the frame source the loop owns while running.
type Camera interface {
	Open(ctx context.Context) error
	Read() (types.Frame, error)
	Reopen(ctx context.Context) error
	Close() error
}

// Filter decides which detections of a result are new scans.
type Filter interface {
	Admit(at time.Time, dets []types.Detection) []types.Detection
	Reset()
}

// Emitter turns accepted detections into cart events.
type Emitter interface {
	Emit(d types.Detection) (cart.Event, error)
}

// Config tunes the loop.
type Config struct {
	TargetFPS         int
	InferenceEvery    int
	InferenceTimeout  time.Duration
	StopGrace         time.Duration
	Watchdog          time.Duration
	NoDetectionBanner time.Duration
	JPEGQuality       int
}

// DefaultConfig returns 4 fps, inference on every 3rd frame, a 1s stop grace,
// a 30s watchdog and the banner after 10s without detections.
func DefaultConfig() Config {
	return Config{
		TargetFPS:         4,
		InferenceEvery:    3,
		InferenceTimeout:  5 * time.Second,
		StopGrace:         time.Second,
		Watchdog:          30 * time.Second,
		NoDetectionBanner: 10 * time.Second,
		JPEGQuality:       render.DefaultQuality,
	}
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Source   Camera
	Detector detector.Detector
	Filter   Filter
	Emitter  Emitter
	Clock    clock.Clock
	Metrics  *metrics.Metrics
}

// Pipeline owns the camera session. Start and Stop are safe to call from
// any goroutine; NextFrame and Status never block on the loop.
type Pipeline struct {
	cfg     Config
	source  Camera
	sched   *Scheduler
	filter  Filter
	emitter Emitter
	clock   clock.Clock
	metrics *metrics.Metrics

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closeErr  error

	running       atomic.Bool
	frame         atomic.Pointer[[]byte]
	renewedAt     atomic.Int64 // unix nanos
	lastDetection atomic.Int64 // unix nanos
	startedAt     atomic.Int64 // unix nanos
}

// New wires a pipeline. The camera is not opened until Start.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 4
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	p := &Pipeline{
		cfg:     cfg,
		source:  deps.Source,
		filter:  deps.Filter,
		emitter: deps.Emitter,
		clock:   deps.Clock,
		metrics: deps.Metrics,
	}
	p.sched = NewScheduler(deps.Detector, SchedulerConfig{
		Every:   cfg.InferenceEvery,
		Timeout: cfg.InferenceTimeout,
	}, deps.Clock, deps.Metrics, p.handleResult)
	return p
}

// Start opens the camera and begins frame delivery. Starting a running
// pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running.Load() {
		p.Renew()
		return nil
	}
	// a loop stopped by its watchdog has already released the camera
	p.reapLocked()

	if err := p.source.Open(ctx); err != nil {
		p.metrics.SetCameraActive(false)
		return err
	}

	if p.filter != nil {
		p.filter.Reset()
	}
	now := p.clock.Now().UnixNano()
	p.startedAt.Store(now)
	p.lastDetection.Store(now)
	p.Renew()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)
	p.metrics.SetCameraActive(true)

	go p.loop(loopCtx, p.done)
	logger.Info("Pipeline", "Camera started (%d fps, inference every %d frames)", p.cfg.TargetFPS, p.sched.every)
	return nil
}

// Stop halts delivery and returns once the camera is released. An in-flight
// inference gets up to StopGrace to finish and its result is discarded.
func (p *Pipeline) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.done == nil {
		return nil
	}
	return p.reapLocked()
}

func (p *Pipeline) reapLocked() error {
	if p.done == nil {
		return nil
	}
	p.cancel()
	<-p.done
	err := p.closeErr
	p.cancel, p.done, p.closeErr = nil, nil, nil
	return err
}

// Running reports whether frames are being delivered.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Renew pushes the watchdog deadline out by a full period.
func (p *Pipeline) Renew() {
	p.renewedAt.Store(p.clock.Now().UnixNano())
}

// NextFrame returns the latest rendered JPEG, or the placeholder while the
// camera is inactive.
func (p *Pipeline) NextFrame() []byte {
	if data := p.frame.Load(); data != nil && p.running.Load() {
		return *data
	}
	return render.Placeholder()
}

// Latest exposes the current detection slot.
func (p *Pipeline) Latest() (Result, bool) {
	return p.sched.Latest()
}

// Interval is the target time between delivered frames.
func (p *Pipeline) Interval() time.Duration {
	return time.Second / time.Duration(p.cfg.TargetFPS)
}

func (p *Pipeline) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer p.teardown()

	ticker := p.clock.Ticker(p.Interval())
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if p.cfg.Watchdog > 0 && p.since(&p.renewedAt) >= p.cfg.Watchdog {
			p.metrics.WatchdogExpiries.Add(1)
			logger.Warn("Pipeline", "Watchdog expired after %s without renewal, stopping camera", p.cfg.Watchdog)
			return
		}

		if err := p.tick(); err != nil {
			failures++
			p.frame.Store(nil)
			logger.Warn("Pipeline", "Frame read failed (%d in a row): %v", failures, err)
			if failures >= reopenAfter {
				failures = 0
				if err := p.source.Reopen(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Pipeline", "Camera reopen failed: %v", err)
				}
			}
			continue
		}
		failures = 0
	}
}

// tick delivers one frame. Only read failures are returned; encoding
// failures skip the frame.
func (p *Pipeline) tick() error {
	f, err := p.source.Read()
	if err != nil {
		return err
	}

	p.sched.Offer(f)

	var labels []render.Label
	if res, ok := p.sched.Latest(); ok {
		labels = render.Labels(res.Detections)
	}
	banner := p.cfg.NoDetectionBanner > 0 && p.since(&p.lastDetection) > p.cfg.NoDetectionBanner

	img := f.Image
	if len(labels) > 0 || banner {
		img = render.Annotate(f.Image, labels, banner)
	}
	data, err := render.Encode(img, p.cfg.JPEGQuality)
	if err != nil {
		p.metrics.EncodeErrors.Add(1)
		logger.Warn("Pipeline", "Skipping frame %d: %v", f.Seq, err)
		return nil
	}
	p.frame.Store(&data)
	p.metrics.FramesRendered.Add(1)
	return nil
}

func (p *Pipeline) teardown() {
	p.running.Store(false)
	p.metrics.SetCameraActive(false)
	p.sched.Reset()
	if !p.sched.Wait(p.cfg.StopGrace) {
		logger.Warn("Pipeline", "Inference still running after %s, releasing camera anyway", p.cfg.StopGrace)
	}
	p.closeErr = p.source.Close()
	p.frame.Store(nil)
	logger.Info("Pipeline", "Camera stopped")
}

// handleResult feeds a completed inference through the filter and emitter.
func (p *Pipeline) handleResult(res Result) {
	if res.Err != nil || len(res.Detections) == 0 {
		return
	}
	p.lastDetection.Store(p.clock.Now().UnixNano())
	if p.filter == nil || p.emitter == nil {
		return
	}

	accepted := p.filter.Admit(res.Frame.Timestamp, res.Detections)
	p.metrics.DetectionsSuppressed.Add(uint64(len(res.Detections) - len(accepted)))
	for _, d := range accepted {
		p.metrics.DetectionsAccepted.Add(1)
		ev, err := p.emitter.Emit(d)
		if err != nil {
			logger.Warn("Pipeline", "Dropping detection %s: %v", d.ProductID, err)
			continue
		}
		p.metrics.EventsQueued.Add(1)
		logger.Info("Pipeline", "Queued %s for %s (conf=%.2f, quantity=%d)", ev.Kind, d.ProductID, d.Confidence, ev.Item.Quantity)
	}
}

func (p *Pipeline) since(ts *atomic.Int64) time.Duration {
	return p.clock.Now().Sub(time.Unix(0, ts.Load()))
}
