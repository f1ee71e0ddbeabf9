package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/webcam-capture/internal/pipeline"
)

var (
	// ErrNotFound is returned when no cycle has been recorded yet.
	ErrNotFound = errors.New("no capture cycles recorded")
)

// MemoryStore is a concurrency-safe in-memory history of capture cycle reports,
// ordered by trigger time. It is lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	reports []pipeline.Report
	totals  map[pipeline.Outcome]int

	// retention configuration
	maxHistory int           // max number of reports kept
	maxAge     time.Duration // optional max age, measured from the trigger time
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		totals:     make(map[pipeline.Outcome]int),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record appends a report and enforces retention. It satisfies pipeline.Recorder.
func (s *MemoryStore) Record(r pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, r)
	s.totals[r.Outcome]++

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.reports) > s.maxHistory {
		over := len(s.reports) - s.maxHistory
		s.reports = append([]pipeline.Report(nil), s.reports[over:]...)
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.reports); i++ {
			if !s.reports[i].Trigger.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			s.reports = append([]pipeline.Report(nil), s.reports[i:]...)
		}
	}
}

// Latest returns the most recent report.
func (s *MemoryStore) Latest() (pipeline.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.reports) == 0 {
		return pipeline.Report{}, ErrNotFound
	}
	return s.reports[len(s.reports)-1], nil
}

// LatestCompleted returns the most recent report that was not skipped.
func (s *MemoryStore) LatestCompleted() (pipeline.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.reports) - 1; i >= 0; i-- {
		if !s.reports[i].Skipped() {
			return s.reports[i], nil
		}
	}
	return pipeline.Report{}, ErrNotFound
}

// Recent returns up to limit reports, newest first.
func (s *MemoryStore) Recent(limit int) []pipeline.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.reports) {
		limit = len(s.reports)
	}
	out := make([]pipeline.Report, 0, limit)
	for i := len(s.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.reports[i])
	}
	return out
}

// Range returns all reports triggered between from and to (inclusive), oldest first.
func (s *MemoryStore) Range(from, to time.Time) ([]pipeline.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []pipeline.Report
	for _, r := range s.reports {
		if !r.Trigger.Before(from) && !r.Trigger.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Totals returns the number of cycles per outcome since start, including
// those already dropped by retention.
func (s *MemoryStore) Totals() map[pipeline.Outcome]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[pipeline.Outcome]int, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out
}
