// Package scheduler provides the tile scheduler: it walks the nested
// (m, n, k) tiling loop, computes per-tile bulk and local addresses,
// manages ping/pong buffer locks under the configured buffering policy,
// issues atomic A+B fetches and C writebacks to the prefetch engine,
// and hands ready tiles to the compute engine.
package scheduler

import (
	"github.com/sarchlab/gemmsim/timing/prefetch"
)

// Buffering selects the buffer allocation policy.
type Buffering int

const (
	// Single uses one buffer slot per operand; no overlap is possible.
	Single Buffering = iota
	// DoubleA double-buffers operand A only.
	DoubleA
	// DoubleB double-buffers operand B only.
	DoubleB
	// DoubleAB double-buffers both operands.
	DoubleAB
)

// String returns the policy name.
func (b Buffering) String() string {
	switch b {
	case Single:
		return "single"
	case DoubleA:
		return "double_a"
	case DoubleB:
		return "double_b"
	case DoubleAB:
		return "double_ab"
	default:
		return "unknown"
	}
}

// doubleA reports whether operand A is double-buffered.
func (b Buffering) doubleA() bool {
	return b == DoubleA || b == DoubleAB
}

// doubleB reports whether operand B is double-buffered.
func (b Buffering) doubleB() bool {
	return b == DoubleB || b == DoubleAB
}

// State enumerates the scheduler's control states.
type State int

const (
	StateIdle State = iota
	StateFetch
	StateWaitData
	StateTileReady
	StateCompute
	StateWriteback
	StateWaitWriteAck
	StateNextTile
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetch:
		return "fetch"
	case StateWaitData:
		return "wait_data"
	case StateTileReady:
		return "tile_ready"
	case StateCompute:
		return "compute"
	case StateWriteback:
		return "writeback"
	case StateWaitWriteAck:
		return "wait_write_ack"
	case StateNextTile:
		return "next_tile"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Params holds the validated run parameters the scheduler needs. The
// config surface derives them; the scheduler never re-validates.
type Params struct {
	MatrixM, MatrixN, MatrixK int
	TileM, TileN, TileK       int

	Buffering Buffering

	BulkBaseA, BulkBaseB, BulkBaseC uint64

	LocalAPing, LocalAPong uint32
	LocalBPing, LocalBPong uint32
	LocalC                 uint32

	ElemSizeA, ElemSizeB, ElemSizeC int
}

// MTiles returns the tile count along m.
func (p Params) MTiles() int { return p.MatrixM / p.TileM }

// NTiles returns the tile count along n.
func (p Params) NTiles() int { return p.MatrixN / p.TileN }

// KTiles returns the tile count along k.
func (p Params) KTiles() int { return p.MatrixK / p.TileK }

// Tile describes one ready tile handed to the compute engine.
type Tile struct {
	// M, N, K are the tile indices.
	M, N, K int
	// LocalA, LocalB are the word addresses of the fetched operand tiles.
	LocalA, LocalB uint32
	// LocalC is the word address of the C accumulation region.
	LocalC uint32
	// FirstK is true on the first k-tile of an (m, n) group.
	FirstK bool
	// LastK is true on the last k-tile of an (m, n) group.
	LastK bool
}

// Stats holds scheduler performance counters.
type Stats struct {
	// ReadRequests counts issued atomic A+B fetches, overlapped included.
	ReadRequests uint64
	// OverlapReads counts the subset issued as overlapped prefetches.
	OverlapReads uint64
	// Writebacks counts issued C writebacks.
	Writebacks uint64
	// Handshakes counts accepted tile-ready handshakes.
	Handshakes uint64
	// TilesCompleted counts compute completions (one per k-tile).
	TilesCompleted uint64
	// IdleCycles counts ticks spent in Idle or Done.
	IdleCycles uint64
	// StallCycles counts ticks stalled in Fetch waiting on a locked
	// slot or a full engine queue.
	StallCycles uint64
}

// pendKind tags an outstanding engine request for done-pulse
// attribution. The engine services strictly in order, so a FIFO of tags
// pairs each done pulse with the request it completes.
type pendKind int

const (
	pendRead pendKind = iota
	pendOverlap
	pendWrite
)

// Inputs carries the signals the scheduler samples each tick.
type Inputs struct {
	// Start is the start pulse from the config surface.
	Start bool
	// Accepted is true when the offered engine request fired this tick.
	Accepted bool
	// EngineDone is the engine's request-complete pulse.
	EngineDone bool
	// TileTaken is true when the offered tile handshake fired this tick.
	TileTaken bool
	// ComputeDone is the compute engine's completion pulse.
	ComputeDone bool
}

// Outputs is the scheduler's output set, a pure function of current
// state. The scheduler exposes no error output: all validation happens
// in the config surface before start.
type Outputs struct {
	// Request is the engine request being offered, held until accepted.
	Request *prefetch.Request
	// Tile is the tile-ready handshake payload, held until taken.
	Tile *Tile
	// Busy is true while a run is in progress.
	Busy bool
	// Done is true once all tiles have been written back.
	Done bool
}

// Scheduler drives the tiling iteration. See the package comment for
// the loop structure; the state machine is one transition function per
// state with an exhaustive switch.
type Scheduler struct {
	params Params
	state  State

	m, n, k int

	// Ping/pong selectors and lock bits per operand. Single-buffered
	// operands pin their selector to slot 0.
	selA, selB   int
	lockA, lockB [2]bool

	// Overlapped-prefetch bookkeeping. At most one overlapped prefetch
	// is outstanding at a time.
	ovOutstanding    bool
	ovDone           bool
	ovM, ovN, ovK    int
	ovSlotA, ovSlotB int

	// Completion flags raised by done-pulse attribution.
	fetchDone bool
	writeDone bool

	// cameFromOverlap marks a WaitData entry that waits on an
	// overlapped prefetch instead of a fetch issued from StateFetch.
	cameFromOverlap bool

	pending []pendKind

	stats Stats
}

// New creates a scheduler for the given run parameters.
func New(params Params) *Scheduler {
	return &Scheduler{params: params}
}

// State returns the current control state.
func (s *Scheduler) State() State {
	return s.state
}

// Params returns the run parameters.
func (s *Scheduler) Params() Params {
	return s.params
}

// Stats returns the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return s.stats
}

// SlotLocked reports the lock bit of one buffer slot, for invariant
// checks in tests.
func (s *Scheduler) SlotLocked(operandA bool, slot int) bool {
	if operandA {
		return s.lockA[slot]
	}
	return s.lockB[slot]
}

// Outputs derives the current-tick output signals.
func (s *Scheduler) Outputs() Outputs {
	out := Outputs{
		Busy: s.state != StateIdle && s.state != StateDone,
		Done: s.state == StateDone,
	}

	switch s.state {
	case StateFetch:
		if !s.lockA[s.selA] && !s.lockB[s.selB] {
			out.Request = s.buildRead(s.m, s.n, s.k, s.selA, s.selB)
		}

	case StateTileReady:
		out.Tile = s.buildTile()

	case StateCompute:
		if req, _, _, _, ok := s.overlapCandidate(); ok {
			out.Request = req
		}

	case StateWriteback:
		out.Request = s.buildWrite(s.m, s.n)
	}

	return out
}

// Tick commits one step of the scheduler state machine.
func (s *Scheduler) Tick(in Inputs) {
	// Done pulses attribute to the oldest outstanding request; the pop
	// happens before any push so a pulse can never pair with a request
	// issued the same tick.
	if in.EngineDone {
		s.attributeDone()
	}

	switch s.state {
	case StateIdle:
		s.stats.IdleCycles++
		if in.Start {
			s.startRun()
		}

	case StateFetch:
		if in.Accepted {
			s.pending = append(s.pending, pendRead)
			s.stats.ReadRequests++
			s.cameFromOverlap = false
			s.state = StateWaitData
		} else {
			s.stats.StallCycles++
		}

	case StateWaitData:
		if s.cameFromOverlap {
			if s.ovDone {
				s.ovDone = false
				s.state = StateTileReady
			}
		} else if s.fetchDone {
			s.fetchDone = false
			s.state = StateTileReady
		}

	case StateTileReady:
		if in.TileTaken {
			s.stats.Handshakes++
			s.state = StateCompute
		}

	case StateCompute:
		if in.Accepted {
			_, tuple, slotA, slotB, ok := s.overlapCandidate()
			if ok {
				s.pending = append(s.pending, pendOverlap)
				s.stats.ReadRequests++
				s.stats.OverlapReads++
				s.ovOutstanding = true
				s.ovM, s.ovN, s.ovK = tuple[0], tuple[1], tuple[2]
				s.ovSlotA, s.ovSlotB = slotA, slotB
			}
		}
		if in.ComputeDone {
			s.finishCompute()
		}

	case StateWriteback:
		if in.Accepted {
			s.pending = append(s.pending, pendWrite)
			s.stats.Writebacks++
			s.state = StateWaitWriteAck
		}

	case StateWaitWriteAck:
		if s.writeDone {
			s.writeDone = false
			s.state = StateNextTile
		}

	case StateNextTile:
		s.advanceTile()

	case StateDone:
		s.stats.IdleCycles++
		if in.Start {
			s.startRun()
		}
	}
}

// startRun resets the loop indices, selectors, and locks for a fresh
// pass from (0, 0, 0).
func (s *Scheduler) startRun() {
	s.m, s.n, s.k = 0, 0, 0
	s.selA, s.selB = 0, 0
	s.lockA = [2]bool{}
	s.lockB = [2]bool{}
	s.ovOutstanding = false
	s.ovDone = false
	s.fetchDone = false
	s.writeDone = false
	s.cameFromOverlap = false
	s.pending = nil
	s.state = StateFetch
}

// attributeDone pops the oldest outstanding request tag and applies its
// completion effects. Buffer slots lock only here, immediately after
// the fetch that filled them completes.
func (s *Scheduler) attributeDone() {
	if len(s.pending) == 0 {
		return
	}
	kind := s.pending[0]
	s.pending = s.pending[1:]

	switch kind {
	case pendRead:
		s.lockA[s.selA] = true
		s.lockB[s.selB] = true
		s.fetchDone = true
	case pendOverlap:
		s.lockA[s.ovSlotA] = true
		s.lockB[s.ovSlotB] = true
		s.ovOutstanding = false
		s.ovDone = true
	case pendWrite:
		s.writeDone = true
	}
}

// finishCompute unlocks the consumed slots, toggles the ping/pong
// selectors for double-buffered operands, and routes to writeback on
// the last k-tile of the (m, n) group.
func (s *Scheduler) finishCompute() {
	s.lockA[s.selA] = false
	s.lockB[s.selB] = false
	if s.params.Buffering.doubleA() {
		s.selA = 1 - s.selA
	}
	if s.params.Buffering.doubleB() {
		s.selB = 1 - s.selB
	}
	s.stats.TilesCompleted++

	if s.k == s.params.KTiles()-1 {
		s.state = StateWriteback
	} else {
		s.state = StateNextTile
	}
}

// advanceTile steps (m, n, k) in the nested order, innermost k first.
func (s *Scheduler) advanceTile() {
	next, ok := s.nextTuple(s.m, s.n, s.k)
	if !ok {
		s.state = StateDone
		return
	}
	s.m, s.n, s.k = next[0], next[1], next[2]

	switch {
	case s.ovDone && s.overlapMatches():
		s.ovDone = false
		s.state = StateTileReady
	case s.ovOutstanding && s.overlapMatches():
		s.cameFromOverlap = true
		s.state = StateWaitData
	default:
		s.state = StateFetch
	}
}

// overlapMatches reports whether the overlapped prefetch targets the
// current tuple.
func (s *Scheduler) overlapMatches() bool {
	return s.ovM == s.m && s.ovN == s.n && s.ovK == s.k
}

// nextTuple returns the tuple after (m, n, k), or ok=false at the end
// of the iteration.
func (s *Scheduler) nextTuple(m, n, k int) ([3]int, bool) {
	k++
	if k == s.params.KTiles() {
		k = 0
		n++
		if n == s.params.NTiles() {
			n = 0
			m++
			if m == s.params.MTiles() {
				return [3]int{}, false
			}
		}
	}
	return [3]int{m, n, k}, true
}

// overlapCandidate evaluates the conditions for issuing an overlapped
// prefetch during compute: mode is not single, a next tile exists, no
// overlapped prefetch is outstanding, and the target slot of every
// operand is free. A single-buffered operand's only slot is still
// locked by the computing tile, so in practice overlap requires the
// operand to be double-buffered.
func (s *Scheduler) overlapCandidate() (*prefetch.Request, [3]int, int, int, bool) {
	if s.params.Buffering == Single || s.ovOutstanding || s.ovDone {
		return nil, [3]int{}, 0, 0, false
	}
	tuple, ok := s.nextTuple(s.m, s.n, s.k)
	if !ok {
		return nil, [3]int{}, 0, 0, false
	}

	slotA := s.selA
	if s.params.Buffering.doubleA() {
		slotA = 1 - s.selA
	}
	slotB := s.selB
	if s.params.Buffering.doubleB() {
		slotB = 1 - s.selB
	}
	if s.lockA[slotA] || s.lockB[slotB] {
		return nil, [3]int{}, 0, 0, false
	}

	req := s.buildRead(tuple[0], tuple[1], tuple[2], slotA, slotB)
	return req, tuple, slotA, slotB, true
}

// localA returns the word address of operand A's slot.
func (s *Scheduler) localA(slot int) uint32 {
	if slot == 0 {
		return s.params.LocalAPing
	}
	return s.params.LocalAPong
}

// localB returns the word address of operand B's slot.
func (s *Scheduler) localB(slot int) uint32 {
	if slot == 0 {
		return s.params.LocalBPing
	}
	return s.params.LocalBPong
}

// buildRead creates the atomic A+B fetch request for tile (m, n, k)
// into the given slots. Bulk addresses are in element units scaled by
// each operand's element byte size.
func (s *Scheduler) buildRead(m, n, k, slotA, slotB int) *prefetch.Request {
	p := s.params
	return &prefetch.Request{
		Kind: prefetch.ReadAB,

		BulkAddrA: p.BulkBaseA +
			uint64(m*p.TileM*p.MatrixK+k*p.TileK)*uint64(p.ElemSizeA),
		BulkAddrB: p.BulkBaseB +
			uint64(k*p.TileK*p.MatrixN+n*p.TileN)*uint64(p.ElemSizeB),

		LocalAddrA: s.localA(slotA),
		LocalAddrB: s.localB(slotB),

		CountA: p.TileM * p.TileK,
		CountB: p.TileK * p.TileN,

		ElemSizeA: p.ElemSizeA,
		ElemSizeB: p.ElemSizeB,
	}
}

// buildWrite creates the C writeback request for the (m, n) group.
func (s *Scheduler) buildWrite(m, n int) *prefetch.Request {
	p := s.params
	return &prefetch.Request{
		Kind: prefetch.WriteC,

		BulkAddrC: p.BulkBaseC +
			uint64(m*p.TileM*p.MatrixN+n*p.TileN)*uint64(p.ElemSizeC),
		LocalAddrC: p.LocalC,
		CountC:     p.TileM * p.TileN,
		ElemSizeC:  p.ElemSizeC,
	}
}

// buildTile creates the tile-ready handshake payload for the current
// tuple.
func (s *Scheduler) buildTile() *Tile {
	return &Tile{
		M:      s.m,
		N:      s.n,
		K:      s.k,
		LocalA: s.localA(s.selA),
		LocalB: s.localB(s.selB),
		LocalC: s.params.LocalC,
		FirstK: s.k == 0,
		LastK:  s.k == s.params.KTiles()-1,
	}
}

// Reset returns the scheduler to Idle and clears all run state and
// counters.
func (s *Scheduler) Reset() {
	s.state = StateIdle
	s.m, s.n, s.k = 0, 0, 0
	s.selA, s.selB = 0, 0
	s.lockA = [2]bool{}
	s.lockB = [2]bool{}
	s.ovOutstanding = false
	s.ovDone = false
	s.fetchDone = false
	s.writeDone = false
	s.cameFromOverlap = false
	s.pending = nil
	s.stats = Stats{}
}
