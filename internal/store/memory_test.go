package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/webcam-capture/internal/pipeline"
)

var base = time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

func report(id string, at time.Time, outcome pipeline.Outcome) pipeline.Report {
	return pipeline.Report{ID: id, Trigger: at, Outcome: outcome}
}

func TestEmptyStore(t *testing.T) {
	s := NewMemoryStore(10, 0)
	_, err := s.Latest()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.Recent(5))
}

func TestRetentionByCount(t *testing.T) {
	s := NewMemoryStore(3, 0)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		s.Record(report(id, base.Add(time.Duration(i)*time.Minute), pipeline.OutcomeSuccess))
	}

	recent := s.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "e", recent[0].ID)
	assert.Equal(t, "c", recent[2].ID)
	assert.Equal(t, 5, s.Totals()[pipeline.OutcomeSuccess])
}

func TestRetentionByAgeDropsEverythingStale(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	now := base
	s.now = func() time.Time { return now }

	s.Record(report("old", base.Add(-3*time.Hour), pipeline.OutcomeFailed))
	s.Record(report("older", base.Add(-2*time.Hour), pipeline.OutcomeFailed))
	assert.Empty(t, s.Recent(0), "all stale reports are trimmed")

	s.Record(report("fresh", base.Add(-time.Minute), pipeline.OutcomeSuccess))
	recent := s.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].ID)
}

func TestLatestCompletedSkipsBusySkips(t *testing.T) {
	s := NewMemoryStore(10, 0)
	s.Record(report("done", base, pipeline.OutcomeDegraded))
	s.Record(report("skip", base.Add(time.Second), pipeline.OutcomeSkipped))

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, "skip", latest.ID)

	completed, err := s.LatestCompleted()
	require.NoError(t, err)
	assert.Equal(t, "done", completed.ID)
}

func TestRange(t *testing.T) {
	s := NewMemoryStore(0, 0)
	for i := 0; i < 5; i++ {
		s.Record(report(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), pipeline.OutcomeSuccess))
	}

	got, err := s.Range(base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "d", got[2].ID)

	_, err = s.Range(base.Add(10*time.Hour), base.Add(11*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}
