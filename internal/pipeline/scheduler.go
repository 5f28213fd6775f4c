package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/detector"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// Result is one completed inference.
type Result struct {
	Frame      types.Frame
	Detections []types.Detection
	Err        error
	Latency    time.Duration
	Generation uint64
	Completed  time.Time
}

// ResultHandler observes results that reached the slot. It runs on the worker
// goroutine while the worker still counts as busy, and Reset does not return
// while a handler of the old generation is running.
type ResultHandler func(Result)

// Scheduler runs the detector on every Nth offered frame with at most one
// invocation in flight. Frames offered while the worker is busy are skipped.
// The slot, the busy flag and the generation share one mutex.
type Scheduler struct {
	detector detector.Detector
	every    uint64
	timeout  time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	handler  ResultHandler

	// deliver is held from the generation check through the handler;
	// Reset takes it before bumping the generation.
	deliver sync.Mutex

	mu         sync.Mutex
	latest     *Result
	busy       bool
	idle       chan struct{} // closed when the current worker returns
	generation uint64
	offered    uint64
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	Every   int
	Timeout time.Duration
}

// NewScheduler builds a scheduler around det.
func NewScheduler(det detector.Detector, cfg SchedulerConfig, clk clock.Clock, m *metrics.Metrics, h ResultHandler) *Scheduler {
	if cfg.Every <= 0 {
		cfg.Every = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{
		detector: det,
		every:    uint64(cfg.Every),
		timeout:  cfg.Timeout,
		clock:    clk,
		metrics:  m,
		handler:  h,
	}
}

// Offer hands a frame to the scheduler and reports whether an inference was
// started for it. It never blocks on the detector.
func (s *Scheduler) Offer(f types.Frame) bool {
	s.mu.Lock()
	s.offered++
	if s.offered%s.every != 0 {
		s.mu.Unlock()
		return false
	}
	if s.busy {
		s.mu.Unlock()
		s.metrics.InferencesSkipped.Add(1)
		logger.Debug("Scheduler", "Worker busy, skipping frame %d", f.Seq)
		return false
	}
	s.busy = true
	idle := make(chan struct{})
	s.idle = idle
	gen := s.generation
	s.mu.Unlock()

	s.metrics.InferencesStarted.Add(1)
	go s.run(f, gen, idle)
	return true
}

func (s *Scheduler) run(f types.Frame, gen uint64, idle chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		close(idle)
	}()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.clock.Now()
	dets, err := s.detector.Detect(ctx, f)
	latency := s.clock.Since(start)
	s.metrics.UpdateInferenceLatency(latency)
	if err != nil {
		s.metrics.InferenceErrors.Add(1)
		logger.Warn("Scheduler", "Inference failed on frame %d: %v", f.Seq, err)
		dets = []types.Detection{}
	}
	if dets == nil {
		dets = []types.Detection{}
	}

	res := Result{
		Frame:      f,
		Detections: dets,
		Err:        err,
		Latency:    latency,
		Generation: gen,
		Completed:  s.clock.Now(),
	}

	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.metrics.InferencesDiscarded.Add(1)
		logger.Debug("Scheduler", "Discarding result of frame %d from stopped session", f.Seq)
		return
	}
	s.latest = &res
	s.mu.Unlock()

	if s.handler != nil {
		s.handler(res)
	}
}

// Latest returns the most recent result of the current generation.
func (s *Scheduler) Latest() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Result{}, false
	}
	return *s.latest, true
}

// Busy reports whether a worker is in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Generation returns the current session generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Reset starts a new generation: the slot is emptied and any in-flight
// result will be discarded when it completes. A handler already delivering
// a result finishes first.
func (s *Scheduler) Reset() {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	s.mu.Lock()
	s.generation++
	s.latest = nil
	s.offered = 0
	s.mu.Unlock()
}

// Wait blocks until no worker is in flight or timeout elapses, and reports
// whether the worker finished.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	s.mu.Lock()
	busy, idle := s.busy, s.idle
	s.mu.Unlock()
	if !busy {
		return true
	}

	timer := s.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}
