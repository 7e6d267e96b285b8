// Package feedback implements C6: the novelty stream that decides whether
// an input uncovered new coverage, and the objective stream that decides
// whether an input is a crash/timeout/OOM. Both are modeled after the
// shwoo03 smart-web-fuzzer FeedbackLoop's split between its
// CoverageTracker (novelty) and its crash/timeout bookkeeping (objective),
// generalized so the objective side is an OR of pluggable predicates
// rather than a single hardcoded field, per spec.md §4.6's "campaign-
// specific objective augmentation."
package feedback

import (
	"sync"
	"time"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/harness"
)

// bucketOf classifies a saturating hit count into one of AFL's eight
// coarse buckets, so that "8 hits" and "9 hits" on the same edge don't
// count as distinct novelty forever but "1 hit" and "8 hits" do.
func bucketOf(hits byte) byte {
	switch {
	case hits == 0:
		return 0
	case hits == 1:
		return 1
	case hits == 2:
		return 2
	case hits == 3:
		return 3
	case hits >= 4 && hits <= 7:
		return 4
	case hits >= 8 && hits <= 15:
		return 5
	case hits >= 16 && hits <= 31:
		return 6
	case hits >= 32 && hits <= 127:
		return 7
	default:
		return 8
	}
}

// NoveltyFeedback wraps the coverage map observer in a standard AFL-style
// novelty feedback (spec.md §4.6): an input is interesting if it
// uncovers a new edge or promotes an existing edge into a new hit-count
// bucket. The "virgin" bitmap persists across the whole campaign.
type NoveltyFeedback struct {
	mu   sync.Mutex
	seen []byte // one byte per edge key: a bitmask of buckets already observed
}

// NewNoveltyFeedback constructs a tracker sized for m.
func NewNoveltyFeedback(m *coverage.Map) *NoveltyFeedback {
	return &NoveltyFeedback{seen: make([]byte, m.Len())}
}

// Observe inspects m's current contents and reports whether any edge is
// new or newly-bucketed, recording what it saw either way (so repeated
// calls against the same map state are idempotent: the second call always
// reports not-interesting).
func (n *NoveltyFeedback) Observe(m *coverage.Map) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	buf := m.Bytes()
	interesting := false
	for i, hit := range buf {
		if hit == 0 {
			continue
		}
		bit := byte(1) << (bucketOf(hit) - 1)
		if n.seen[i]&bit == 0 {
			n.seen[i] |= bit
			interesting = true
		}
	}
	return interesting
}

// EdgeCount returns the number of distinct edges ever observed nonzero.
func (n *NoveltyFeedback) EdgeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, b := range n.seen {
		if b != 0 {
			count++
		}
	}
	return count
}

// Observation is everything an ObjectivePredicate needs to decide whether
// one iteration should be promoted to the crashes corpus.
type Observation struct {
	Disposition          harness.Disposition
	InputLen             int
	InstructionsConsumed uint64
}

// ObjectivePredicate is one condition a campaign wires into the objective
// stream; spec.md §4.6's worked example is "instructions-consumed /
// input-length ratio exceeds a threshold."
type ObjectivePredicate func(Observation) bool

// baseObjective is the logical OR of Crash, Timeout, and OOM exit
// dispositions spec.md §4.6 always includes.
func baseObjective(o Observation) bool {
	switch o.Disposition {
	case harness.Crash, harness.Timeout, harness.Oom:
		return true
	default:
		return false
	}
}

// ObjectiveFeedback is the OR of the base disposition predicate and any
// campaign-specific predicates registered at construction.
type ObjectiveFeedback struct {
	extra []ObjectivePredicate
}

// NewObjectiveFeedback builds an ObjectiveFeedback with zero or more
// additional predicates ORed into the base disposition check.
func NewObjectiveFeedback(extra ...ObjectivePredicate) *ObjectiveFeedback {
	return &ObjectiveFeedback{extra: extra}
}

// IsObjective reports whether o should be promoted to the crashes corpus.
func (of *ObjectiveFeedback) IsObjective(o Observation) bool {
	if baseObjective(o) {
		return true
	}
	for _, p := range of.extra {
		if p(o) {
			return true
		}
	}
	return false
}

// RatioThreshold builds the campaign-specific objective worked example
// from spec.md §4.6: flag an input whose instructions-consumed divided by
// its length exceeds threshold. Zero-length inputs never trip it.
func RatioThreshold(threshold float64) ObjectivePredicate {
	return func(o Observation) bool {
		if o.InputLen == 0 {
			return false
		}
		return float64(o.InstructionsConsumed)/float64(o.InputLen) > threshold
	}
}

// Stats accumulates campaign-wide counters, reported by the summary line
// cmd/canfuzz's run command logs when the campaign stops (grounded on shwoo03's
// FeedbackStats, trimmed to the fields this campaign actually reports).
type Stats struct {
	mu          sync.Mutex
	Executions  int64
	Interesting int64
	Crashes     int64
	Timeouts    int64
	Ooms        int64
	StartTime   time.Time
}

// NewStats starts a fresh counter set with StartTime set to now.
func NewStats(now time.Time) *Stats {
	return &Stats{StartTime: now}
}

// RecordIteration updates counters for one completed iteration.
func (s *Stats) RecordIteration(d harness.Disposition, interesting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Executions++
	if interesting {
		s.Interesting++
	}
	switch d {
	case harness.Crash:
		s.Crashes++
	case harness.Timeout:
		s.Timeouts++
	case harness.Oom:
		s.Ooms++
	}
}

// Snapshot returns a copy of the counters for logging.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Executions:  s.Executions,
		Interesting: s.Interesting,
		Crashes:     s.Crashes,
		Timeouts:    s.Timeouts,
		Ooms:        s.Ooms,
		StartTime:   s.StartTime,
	}
}
