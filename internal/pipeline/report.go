package pipeline

import (
	"time"

	"github.com/i474232898/webcam-capture/internal/upload"
)

// Stage names one step of a capture cycle.
type Stage string

const (
	StageCapture     Stage = "capture"
	StageWeather     Stage = "weather"
	StageOverlay     Stage = "overlay"
	StageMetadata    Stage = "metadata"
	StageUpload      Stage = "upload"
	StageCleanUpload Stage = "upload_clean"
)

// Outcome summarizes a whole cycle.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// StageResult records how one stage ended.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"durationNs"`
}

// Report is the record of one capture cycle, including skipped ones.
type Report struct {
	ID           string          `json:"id"`
	Trigger      time.Time       `json:"trigger"`
	IsDay        bool            `json:"isDay"`
	Outcome      Outcome         `json:"outcome"`
	Stages       []StageResult   `json:"stages,omitempty"`
	Bytes        int             `json:"bytes,omitempty"`
	Badge        string          `json:"badge,omitempty"`
	Receipt      *upload.Receipt `json:"receipt,omitempty"`
	CleanReceipt *upload.Receipt `json:"cleanReceipt,omitempty"`
	Error        string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"durationNs"`
}

// Skipped reports whether the cycle was dropped by the single-flight guard.
func (r Report) Skipped() bool { return r.Outcome == OutcomeSkipped }

// Stage returns the result for s, if the stage ran.
func (r Report) Stage(s Stage) (StageResult, bool) {
	for _, st := range r.Stages {
		if st.Stage == s {
			return st, true
		}
	}
	return StageResult{}, false
}

func (r *Report) add(s Stage, status string, err error, took time.Duration) {
	res := StageResult{Stage: s, Status: status, Duration: took}
	if err != nil {
		res.Error = err.Error()
	}
	r.Stages = append(r.Stages, res)
}
