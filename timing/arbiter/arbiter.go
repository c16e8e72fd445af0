// Package arbiter provides fixed-priority arbitration over the banked
// local memory.
//
// Each bank is arbitrated independently every tick between the prefetch
// engine and the compute engine. Priority is held as an ordered
// requester list so a future fairness policy replaces the list without
// touching the bank logic. There is no queuing: a denied requester must
// re-assert its request on a later tick.
package arbiter

import (
	"github.com/sarchlab/gemmsim/mem"
)

// Requester identifies one of the two local-memory requesters.
type Requester int

const (
	// Prefetch is the prefetch engine, fixed priority 0 (highest).
	Prefetch Requester = iota
	// Compute is the compute engine, fixed priority 1.
	Compute
	// NumRequesters is the number of requester slots.
	NumRequesters
)

// String returns the requester name.
func (r Requester) String() string {
	switch r {
	case Prefetch:
		return "prefetch"
	case Compute:
		return "compute"
	default:
		return "unknown"
	}
}

// Request is one requester's local-memory access attempt for the
// current tick.
type Request struct {
	// Valid asserts the request.
	Valid bool
	// Bank is the target bank index.
	Bank int
	// Addr is the word address within local memory.
	Addr uint32
	// IsWrite selects a write access.
	IsWrite bool
	// Data is the word to store for writes.
	Data uint32
}

// ReadResponse is read data delivered one tick after a granted read,
// tagged by requester and bank so that concurrent responses cannot
// cross-deliver.
type ReadResponse struct {
	Requester Requester
	Bank      int
	Data      uint32
}

// Stats holds arbitration counters.
type Stats struct {
	// Grants counts granted requests per requester.
	Grants [NumRequesters]uint64
	// Denials counts denied requests per requester.
	Denials [NumRequesters]uint64
	// Reads and Writes count granted accesses by kind.
	Reads  uint64
	Writes uint64
}

// Arbiter multiplexes the two requesters onto the local-memory banks
// with fixed priority, recomputed every tick.
type Arbiter struct {
	memory *mem.LocalMemory
	order  []Requester

	// pending holds read responses scheduled for delivery next tick.
	pending []ReadResponse

	stats Stats
}

// New creates an arbiter over the given local memory with the default
// priority order: prefetch before compute.
func New(memory *mem.LocalMemory) *Arbiter {
	return NewWithOrder(memory, []Requester{Prefetch, Compute})
}

// NewWithOrder creates an arbiter with an explicit priority order,
// highest first.
func NewWithOrder(memory *mem.LocalMemory, order []Requester) *Arbiter {
	return &Arbiter{
		memory: memory,
		order:  append([]Requester(nil), order...),
	}
}

// Stats returns the arbitration counters.
func (a *Arbiter) Stats() Stats {
	return a.stats
}

// Tick arbitrates the requests asserted this tick, performs the granted
// bank accesses, and returns the per-requester grants together with the
// read responses from the previous tick's granted reads.
func (a *Arbiter) Tick(reqs [NumRequesters]Request) ([NumRequesters]bool, []ReadResponse) {
	delivered := a.pending
	a.pending = nil

	var grants [NumRequesters]bool
	claimed := make(map[int]bool, len(a.order))

	for _, r := range a.order {
		req := reqs[r]
		if !req.Valid {
			continue
		}
		if claimed[req.Bank] {
			a.stats.Denials[r]++
			continue
		}
		claimed[req.Bank] = true
		grants[r] = true
		a.stats.Grants[r]++

		if req.IsWrite {
			a.stats.Writes++
			a.memory.WriteWord(req.Addr, req.Data)
		} else {
			a.stats.Reads++
			a.pending = append(a.pending, ReadResponse{
				Requester: r,
				Bank:      req.Bank,
				Data:      a.memory.ReadWord(req.Addr),
			})
		}
	}

	return grants, delivered
}

// Reset drops any in-flight read response and clears counters.
func (a *Arbiter) Reset() {
	a.pending = nil
	a.stats = Stats{}
}
