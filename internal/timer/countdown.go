package timer

import "time"

// Countdown is a pausable, adjustable duration counter: a chess clock for
// one player. It is created paused.
type Countdown struct {
	remaining time.Duration
	maximum   time.Duration
	job       *Interval
	onTick    func(*Countdown)
}

type countdownConfig struct {
	interval time.Duration
	maximum  time.Duration
	onTick   func(*Countdown)
}

// Option configures a Countdown.
type Option func(*countdownConfig)

// OnTick sets a callback fired with the countdown after every tick.
func OnTick(fn func(*Countdown)) Option {
	return func(c *countdownConfig) { c.onTick = fn }
}

// WithInterval sets the tick interval. Defaults to one second.
func WithInterval(d time.Duration) Option {
	return func(c *countdownConfig) { c.interval = d }
}

// WithMaximum caps what Increase can bank. Defaults to the initial duration.
func WithMaximum(d time.Duration) Option {
	return func(c *countdownConfig) { c.maximum = d }
}

// CreateCountdown creates a paused countdown starting at initial.
func (s *Scheduler) CreateCountdown(initial time.Duration, opts ...Option) *Countdown {
	cfg := countdownConfig{interval: time.Second, maximum: initial}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Countdown{
		remaining: initial,
		maximum:   cfg.maximum,
		onTick:    cfg.onTick,
	}
	c.job = s.SetInterval(c.tick, cfg.interval)
	c.job.Pause()
	return c
}

func (c *Countdown) tick(elapsed time.Duration) {
	c.remaining -= elapsed
	if c.onTick != nil {
		c.onTick(c)
	}
}

// Pause stops the countdown and charges the time run since the last tick.
func (c *Countdown) Pause() {
	if c.job.Paused() {
		return
	}
	c.job.Pause()
	c.remaining -= c.job.Flush()
}

// Resume starts counting down again.
func (c *Countdown) Resume() {
	c.job.Resume()
}

// Clear stops the countdown permanently.
func (c *Countdown) Clear() {
	c.job.Clear()
}

// Running reports whether the countdown is currently ticking.
func (c *Countdown) Running() bool {
	return !c.job.Paused()
}

// Cleared reports whether Clear was called.
func (c *Countdown) Cleared() bool {
	return c.job.Cleared()
}

// Increase adds d to the remaining time, clamped to the maximum.
func (c *Countdown) Increase(d time.Duration) {
	c.remaining += d
	if c.remaining > c.maximum {
		c.remaining = c.maximum
	}
}

// Decrease subtracts d from the remaining time. The result may be negative.
func (c *Countdown) Decrease(d time.Duration) {
	c.remaining -= d
}

// Remaining returns the time left, negative once expired.
func (c *Countdown) Remaining() time.Duration { return c.remaining }

// Maximum returns the cap applied by Increase.
func (c *Countdown) Maximum() time.Duration { return c.maximum }

// Expired reports whether no time is left.
func (c *Countdown) Expired() bool { return c.remaining <= 0 }

// Hours returns the hours component of the remaining time (0-23).
func (c *Countdown) Hours() int { return int(c.remaining/time.Hour) % 24 }

// Minutes returns the minutes component of the remaining time (0-59).
func (c *Countdown) Minutes() int { return int(c.remaining/time.Minute) % 60 }

// Seconds returns the seconds component of the remaining time (0-59).
func (c *Countdown) Seconds() int { return int(c.remaining/time.Second) % 60 }

// Milliseconds returns the milliseconds component of the remaining time (0-999).
func (c *Countdown) Milliseconds() int { return int(c.remaining/time.Millisecond) % 1000 }
