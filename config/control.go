package config

// Counters holds the performance counters the control surface exposes.
type Counters struct {
	// Cycles is the total tick count of the run.
	Cycles uint64
	// BulkReadBeats and BulkWriteBeats count bulk transport beats.
	BulkReadBeats  uint64
	BulkWriteBeats uint64
	// Tiles counts completed tiles (one per k-step).
	Tiles uint64
	// IdleCycles counts ticks the scheduler spent idle or done.
	IdleCycles uint64
}

// nextError applies the error-register update priority, highest first:
// an explicit reset clears it, an external error sets it, a failed
// start-validation sets it, otherwise it holds its previous value.
func nextError(cur, reset, external, failedStart bool) bool {
	switch {
	case reset:
		return false
	case external:
		return true
	case failedStart:
		return true
	default:
		return cur
	}
}

// Control is the control register block: start gating, busy/done
// status, and the sticky error flag.
type Control struct {
	busy bool
	done bool
	err  bool

	counters Counters
}

// NewControl creates a control block in the reset state.
func NewControl() *Control {
	return &Control{}
}

// Reset clears all status, including the sticky error flag.
func (c *Control) Reset() {
	c.busy = false
	c.done = false
	c.err = nextError(c.err, true, false, false)
	c.counters = Counters{}
}

// RequestStart validates the configuration and, if it is accepted,
// arms a new run. A start is accepted only while not busy; a failed
// validation sets the sticky error flag and suppresses the start. A
// valid start clears a previously latched error.
func (c *Control) RequestStart(cfg *Config) bool {
	if c.busy {
		return false
	}
	if err := cfg.Validate(); err != nil {
		c.err = nextError(c.err, false, false, true)
		return false
	}
	c.err = nextError(c.err, true, false, false)
	c.busy = true
	c.done = false
	return true
}

// ExternalError latches an out-of-band collaborator error.
func (c *Control) ExternalError() {
	c.err = nextError(c.err, false, true, false)
}

// Finish marks the run complete.
func (c *Control) Finish() {
	c.busy = false
	c.done = true
}

// Busy reports whether a run is in progress.
func (c *Control) Busy() bool { return c.busy }

// Done reports whether the last run completed.
func (c *Control) Done() bool { return c.done }

// Error reports the sticky error flag.
func (c *Control) Error() bool { return c.err }

// Counters returns the performance counters.
func (c *Control) Counters() Counters { return c.counters }

// SetCounters publishes updated performance counters.
func (c *Control) SetCounters(counters Counters) {
	c.counters = counters
}
