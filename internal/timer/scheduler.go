package timer

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler is a cooperative clock shared by every timer of one match.
// Jobs only run from Tick, on the caller's goroutine; the scheduler never
// starts goroutines of its own and is not safe for concurrent use.
type Scheduler struct {
	clock clock.Clock
	jobs  []*Interval
}

// NewScheduler creates a scheduler reading time from c. A nil clock uses
// the wall clock.
func NewScheduler(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{clock: c}
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// SetInterval registers fn to run every interval of running time. The job
// starts running immediately.
func (s *Scheduler) SetInterval(fn func(elapsed time.Duration), interval time.Duration) *Interval {
	if interval <= 0 {
		interval = time.Second
	}
	job := &Interval{
		sched:    s,
		fn:       fn,
		interval: interval,
		last:     s.clock.Now(),
	}
	s.jobs = append(s.jobs, job)
	return job
}

// Tick advances every live job to the current time, firing those whose
// interval has passed. Cleared jobs are dropped.
func (s *Scheduler) Tick() {
	now := s.clock.Now()

	live := s.jobs[:0]
	for _, job := range s.jobs {
		if !job.cleared {
			live = append(live, job)
		}
	}
	for i := len(live); i < len(s.jobs); i++ {
		s.jobs[i] = nil
	}
	s.jobs = live

	// callbacks may register or clear jobs
	snapshot := make([]*Interval, len(s.jobs))
	copy(snapshot, s.jobs)
	for _, job := range snapshot {
		job.advance(now)
	}
}

// Len returns the number of jobs that have not been cleared.
func (s *Scheduler) Len() int {
	n := 0
	for _, job := range s.jobs {
		if !job.cleared {
			n++
		}
	}
	return n
}

// Clear stops every job. Used at match teardown.
func (s *Scheduler) Clear() {
	for _, job := range s.jobs {
		job.Clear()
	}
	s.jobs = nil
}

// Interval is a repeating job owned by a Scheduler.
type Interval struct {
	sched    *Scheduler
	fn       func(elapsed time.Duration)
	interval time.Duration
	last     time.Time
	elapsed  time.Duration
	paused   bool
	cleared  bool
}

func (i *Interval) advance(now time.Time) {
	if i.paused || i.cleared {
		return
	}
	i.elapsed += now.Sub(i.last)
	i.last = now
	if i.elapsed < i.interval {
		return
	}
	elapsed := i.elapsed
	i.elapsed = 0
	i.fn(elapsed)
}

// Pause stops the job from accumulating time. The running time since the
// last fire is kept and can be taken with Flush.
func (i *Interval) Pause() {
	if i.paused || i.cleared {
		return
	}
	i.elapsed += i.sched.Now().Sub(i.last)
	i.paused = true
}

// Resume continues a paused job from the current time.
func (i *Interval) Resume() {
	if !i.paused || i.cleared {
		return
	}
	i.last = i.sched.Now()
	i.paused = false
}

// Clear stops the job permanently. Calling it again is a no-op.
func (i *Interval) Clear() {
	i.cleared = true
	i.paused = true
}

// Flush returns the running time accumulated since the last fire and
// resets it. Only meaningful while paused.
func (i *Interval) Flush() time.Duration {
	elapsed := i.elapsed
	i.elapsed = 0
	return elapsed
}

// Paused reports whether the job is paused or cleared.
func (i *Interval) Paused() bool { return i.paused }

// Cleared reports whether the job was cleared.
func (i *Interval) Cleared() bool { return i.cleared }
