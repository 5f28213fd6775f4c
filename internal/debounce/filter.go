// Package debounce decides which detections are new physical scans.
//
// Two rules compose in a fixed order. A raw label sighted again inside the
// label window is a continuation of the item already in view; every continuing
// sighting refreshes that label, so an item that stays in frame never re-fires.
// After a detection is accepted, a global cooldown suppresses any later
// inference result until it elapses. Sightings suppressed by the cooldown are
// not remembered, so an item placed in view meanwhile is scanned as soon as the
// cooldown ends. Detections inside the one result that produced the acceptance
// are still evaluated, so a single scan can hold several products.
package debounce

import (
	"sync"
	"time"

	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// Verdict is the filter outcome for one detection.
type Verdict int

const (
	Accepted     Verdict = iota
	Unknown              // product id does not resolve in the catalog
	Continuation         // raw label seen within the label window
	Cooldown             // global cooldown still running
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Unknown:
		return "unknown"
	case Continuation:
		return "continuation"
	case Cooldown:
		return "cooldown"
	default:
		return "invalid"
	}
}

// Catalog is the membership check the filter re-applies.
type Catalog interface {
	Contains(id string) bool
}

// Config holds the filter windows. A zero duration disables that rule.
type Config struct {
	LabelWindow time.Duration
	Cooldown    time.Duration
}

// Filter tracks recent sightings. It is safe for concurrent use.
type Filter struct {
	cfg     Config
	catalog Catalog

	mu           sync.Mutex
	lastSeen     map[string]time.Time // raw label -> last sighting
	lastAccepted time.Time
	accepted     bool
}

// New returns a filter with no history.
func New(cfg Config, c Catalog) *Filter {
	return &Filter{
		cfg:      cfg,
		catalog:  c,
		lastSeen: make(map[string]time.Time),
	}
}

// Admit evaluates one inference result captured at `at` and returns the
// detections accepted as new scans, in input order.
func (f *Filter) Admit(at time.Time, dets []types.Detection) []types.Detection {
	verdicts := f.Evaluate(at, dets)
	var out []types.Detection
	for i, v := range verdicts {
		if v == Accepted {
			out = append(out, dets[i])
		}
	}
	return out
}

// Evaluate is Admit returning a verdict per detection.
func (f *Filter) Evaluate(at time.Time, dets []types.Detection) []Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictLocked(at)
	coolingDown := f.accepted && f.cfg.Cooldown > 0 && at.Sub(f.lastAccepted) < f.cfg.Cooldown

	verdicts := make([]Verdict, len(dets))
	batchAccepted := false
	for i, d := range dets {
		if d.ProductID == "" || f.catalog == nil || !f.catalog.Contains(d.ProductID) {
			verdicts[i] = Unknown
			continue
		}

		prev, seen := f.lastSeen[d.Label]
		switch {
		case seen && f.cfg.LabelWindow > 0 && at.Sub(prev) < f.cfg.LabelWindow:
			verdicts[i] = Continuation
			f.lastSeen[d.Label] = at
		case coolingDown:
			// not recorded: the item is scanned once the cooldown ends
			verdicts[i] = Cooldown
		default:
			verdicts[i] = Accepted
			f.lastSeen[d.Label] = at
			batchAccepted = true
		}
	}

	if batchAccepted {
		f.lastAccepted = at
		f.accepted = true
	}
	return verdicts
}

// Reset forgets all sightings and the cooldown.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.lastSeen)
	f.accepted = false
	f.lastAccepted = time.Time{}
}

// Tracked returns the number of labels currently remembered.
func (f *Filter) Tracked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lastSeen)
}

func (f *Filter) evictLocked(at time.Time) {
	for label, ts := range f.lastSeen {
		if at.Sub(ts) >= f.cfg.LabelWindow {
			delete(f.lastSeen, label)
		}
	}
}
