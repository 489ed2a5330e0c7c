package model

import "time"

// DefaultRefreshInterval approximates one display refresh at 60Hz.
const DefaultRefreshInterval = 16 * time.Millisecond

// Scheduler is the display-refresh primitive shared by all running
// controllers. Each loop iteration schedules exactly one follow-up run,
// so a controller advances one tick per refresh edge.
type Scheduler interface {
	// Next schedules fn to run once at the next refresh edge. The
	// returned cancel stops a still-pending run; it is a no-op once fn
	// has started.
	Next(fn func()) (cancel func())
}

type intervalScheduler struct {
	interval time.Duration
}

// NewRefreshScheduler returns a Scheduler firing after each interval.
// A non-positive interval falls back to DefaultRefreshInterval.
func NewRefreshScheduler(interval time.Duration) Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &intervalScheduler{interval: interval}
}

func (s *intervalScheduler) Next(fn func()) (cancel func()) {
	t := time.AfterFunc(s.interval, fn)
	return func() { t.Stop() }
}
