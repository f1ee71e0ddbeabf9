package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
)

// jobRunner is the timer backend of the Scheduler.
type jobRunner interface {
	// every registers fn to run every d, first after one full period.
	every(d time.Duration, fn func()) (any, error)
	remove(job any)
	start()
	stop()
}

type gocronRunner struct {
	s *gocron.Scheduler
}

func newGocronRunner() *gocronRunner {
	return &gocronRunner{s: gocron.NewScheduler(time.UTC)}
}

func (r *gocronRunner) every(d time.Duration, fn func()) (any, error) {
	return r.s.Every(d).WaitForSchedule().Do(fn)
}

func (r *gocronRunner) remove(job any) {
	if j, ok := job.(*gocron.Job); ok {
		r.s.RemoveByReference(j)
	}
}

func (r *gocronRunner) start() { r.s.StartAsync() }

func (r *gocronRunner) stop() { r.s.Stop() }
