package pipeline

import (
	"time"

	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// Status is a point-in-time view of the camera session for /api/status.
type Status struct {
	CameraActive        bool              `json:"camera_active"`
	TargetFPS           int               `json:"target_fps"`
	InferenceEvery      int               `json:"inference_every"`
	Uptime              float64           `json:"uptime_seconds"`
	FramesRead          uint64            `json:"frames_read"`
	FramesRendered      uint64            `json:"frames_rendered"`
	InferencesStarted   uint64            `json:"inferences_started"`
	InferencesSkipped   uint64            `json:"inferences_skipped"`
	InferenceErrors     uint64            `json:"inference_errors"`
	InferencesDiscarded uint64            `json:"inferences_discarded"`
	InferenceBusy       bool              `json:"inference_busy"`
	LastInferenceMs     uint64            `json:"last_inference_ms"`
	DetectionsAccepted  uint64            `json:"detections_accepted"`
	DetectionCount      int               `json:"detection_count"`
	Detections          []types.Detection `json:"detections"`
	LastResultAt        *time.Time        `json:"last_result_at,omitempty"`
}

// Status snapshots the pipeline counters and the latest result.
func (p *Pipeline) Status() Status {
	m := p.metrics
	st := Status{
		CameraActive:        p.running.Load(),
		TargetFPS:           p.cfg.TargetFPS,
		InferenceEvery:      int(p.sched.every),
		FramesRead:          m.FramesRead.Load(),
		FramesRendered:      m.FramesRendered.Load(),
		InferencesStarted:   m.InferencesStarted.Load(),
		InferencesSkipped:   m.InferencesSkipped.Load(),
		InferenceErrors:     m.InferenceErrors.Load(),
		InferencesDiscarded: m.InferencesDiscarded.Load(),
		InferenceBusy:       p.sched.Busy(),
		LastInferenceMs:     m.InferenceLatencyMs.Load(),
		DetectionsAccepted:  m.DetectionsAccepted.Load(),
		Detections:          []types.Detection{},
	}
	if st.CameraActive {
		st.Uptime = p.since(&p.startedAt).Seconds()
	}
	if res, ok := p.sched.Latest(); ok {
		st.Detections = res.Detections
		st.DetectionCount = len(res.Detections)
		completed := res.Completed
		st.LastResultAt = &completed
	}
	return st
}
