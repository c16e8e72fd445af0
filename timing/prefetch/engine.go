// Package prefetch provides the engine that turns the scheduler's
// logical fetch and writeback requests into bulk-memory transactions
// and local-memory accesses, converting between the wide bulk beat and
// the narrow local word.
package prefetch

import (
	"github.com/sarchlab/gemmsim/mem"
	"github.com/sarchlab/gemmsim/timing/arbiter"
)

// DefaultDepth is the default request-queue capacity.
const DefaultDepth = 4

// Config holds engine parameters.
type Config struct {
	// Depth is the request-queue capacity.
	Depth int
	// BeatBytes is the bulk transport beat width in bytes.
	BeatBytes int
}

// DefaultConfig returns an engine configuration matching the default
// bulk transport.
func DefaultConfig() Config {
	return Config{
		Depth:     DefaultDepth,
		BeatBytes: 16,
	}
}

// Stats holds engine performance counters.
type Stats struct {
	// ReadsServiced counts completed atomic A+B fetches.
	ReadsServiced uint64
	// WritesServiced counts completed C writebacks.
	WritesServiced uint64
	// Rejected counts enqueue attempts dropped by defensive validation.
	Rejected uint64
	// WordsToLocal counts words written into local memory on the read path.
	WordsToLocal uint64
	// WordsFromLocal counts words drained from local memory on the write path.
	WordsFromLocal uint64
}

// engState enumerates the engine's service phases.
type engState int

const (
	engIdle engState = iota
	engReadIssue
	engReadStream
	engWriteIssue
	engWriteCollect
	engWriteAckWait
	engDone
)

// Inputs carries the signals the engine samples each tick. The harness
// gates every field on the matching ready/valid pair, so each non-zero
// field represents a fired handshake.
type Inputs struct {
	// Enq is a request accepted into the queue this tick, or nil.
	Enq *Request
	// BulkReqFired is true when the offered bulk request was accepted.
	BulkReqFired bool
	// ReadBeat is the bulk read beat taken this tick, or nil.
	ReadBeat *mem.Beat
	// WriteBeatFired is true when the offered write beat was accepted.
	WriteBeatFired bool
	// Grant is true when the asserted local-memory request was granted.
	Grant bool
	// ReadResp is local read data delivered this tick, or nil.
	ReadResp *arbiter.ReadResponse
	// WriteAck is the bulk write-acknowledge pulse.
	WriteAck bool
}

// Outputs is the engine's output set, a pure function of current state.
type Outputs struct {
	// Ready is true while the request queue is below capacity.
	Ready bool
	// Done pulses for one tick when a request is fully serviced.
	Done bool
	// BulkReq is the bulk transaction being offered, held until fired.
	BulkReq *mem.BulkRequest
	// BeatReady is true when the engine can take the offered read beat.
	BeatReady bool
	// WriteBeat is the write-data beat being offered, held until fired.
	WriteBeat *mem.Beat
	// LocalReq is the local-memory access asserted this tick.
	LocalReq arbiter.Request
}

// Engine services scheduler requests strictly in arrival order, one at
// a time. On the read path each bulk beat is split into words and
// written sequentially to local memory; a new beat is taken only once
// the previous beat has fully drained. On the write path local words
// are packed into beats, the final partial beat zero-padded, and the
// done pulse waits for the bulk write acknowledge.
type Engine struct {
	config Config
	local  *mem.LocalMemory

	queue *requestQueue
	state engState
	cur   Request

	// operand is the read operand being streamed (0 = A, 1 = B).
	operand int

	// Beat assembly state, reset per operand.
	wordsDone int      // words moved for the current operand
	pend      []uint32 // read path: beat words not yet written to local
	packed    []byte   // write path: bytes collected for the next beat
	beatOut   *mem.Beat
	lastBeat  bool
	awaiting  bool // write path: local read response in flight

	stats Stats
}

// NewEngine creates a prefetch engine over the given local memory.
func NewEngine(config Config, local *mem.LocalMemory) *Engine {
	if config.Depth <= 0 {
		config.Depth = DefaultDepth
	}
	return &Engine{
		config: config,
		local:  local,
		queue:  newRequestQueue(config.Depth),
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// QueueLen returns the current request-queue occupancy.
func (e *Engine) QueueLen() int {
	return e.queue.len()
}

// Outputs derives the current-tick output signals.
func (e *Engine) Outputs() Outputs {
	out := Outputs{
		Ready: !e.queue.full(),
		Done:  e.state == engDone,
	}

	switch e.state {
	case engReadIssue:
		op := e.cur.readOperand(e.operand)
		out.BulkReq = &mem.BulkRequest{
			Addr:      op.bulk,
			ByteCount: op.count * op.size,
		}

	case engReadStream:
		if len(e.pend) > 0 {
			op := e.cur.readOperand(e.operand)
			addr := op.local + uint32(e.wordsDone)
			out.LocalReq = arbiter.Request{
				Valid:   true,
				Bank:    e.local.Bank(addr),
				Addr:    addr,
				IsWrite: true,
				Data:    e.pend[0],
			}
		} else {
			out.BeatReady = true
		}

	case engWriteIssue:
		op := e.cur.writeOperand()
		out.BulkReq = &mem.BulkRequest{
			Addr:      op.bulk,
			ByteCount: op.count * op.size,
			IsWrite:   true,
		}

	case engWriteCollect:
		if e.beatOut != nil {
			out.WriteBeat = e.beatOut
		} else if !e.awaiting {
			op := e.cur.writeOperand()
			if e.wordsDone < op.count {
				addr := op.local + uint32(e.wordsDone)
				out.LocalReq = arbiter.Request{
					Valid: true,
					Bank:  e.local.Bank(addr),
					Addr:  addr,
				}
			}
		}
	}

	return out
}

// Tick commits one step of the engine state machine.
func (e *Engine) Tick(in Inputs) {
	if in.Enq != nil {
		if in.Enq.valid() && e.queue.push(*in.Enq) {
			// accepted
		} else {
			e.stats.Rejected++
		}
	}

	switch e.state {
	case engIdle:
		e.dispatch()

	case engReadIssue:
		if in.BulkReqFired {
			e.state = engReadStream
			e.wordsDone = 0
			e.pend = nil
		}

	case engReadStream:
		e.tickReadStream(in)

	case engWriteIssue:
		if in.BulkReqFired {
			e.state = engWriteCollect
			e.wordsDone = 0
			e.packed = nil
			e.beatOut = nil
			e.lastBeat = false
			e.awaiting = false
		}

	case engWriteCollect:
		e.tickWriteCollect(in)

	case engWriteAckWait:
		if in.WriteAck {
			e.state = engDone
		}

	case engDone:
		if e.cur.Kind == ReadAB {
			e.stats.ReadsServiced++
		} else {
			e.stats.WritesServiced++
		}
		e.state = engIdle
		e.dispatch()
	}
}

// dispatch starts servicing the queue head, if any.
func (e *Engine) dispatch() {
	r, ok := e.queue.pop()
	if !ok {
		return
	}
	e.cur = r
	if r.Kind == ReadAB {
		e.operand = 0
		e.state = engReadIssue
	} else {
		e.state = engWriteIssue
	}
}

// tickReadStream advances the beat-splitting read path for the current
// operand.
func (e *Engine) tickReadStream(in Inputs) {
	op := e.cur.readOperand(e.operand)

	if in.ReadBeat != nil {
		// Take the beat and unpack exactly the words still needed;
		// excess words in a final beat are not consumed.
		n := e.config.BeatBytes / op.size
		if remain := op.count - e.wordsDone; n > remain {
			n = remain
		}
		e.pend = wordsFromBeat(in.ReadBeat.Data, op.size, n)
		return
	}

	if in.Grant && len(e.pend) > 0 {
		e.pend = e.pend[1:]
		e.wordsDone++
		e.stats.WordsToLocal++
		if e.wordsDone == op.count {
			if e.operand == 0 {
				e.operand = 1
				e.state = engReadIssue
			} else {
				e.state = engDone
			}
		}
	}
}

// tickWriteCollect advances the word-packing write path.
func (e *Engine) tickWriteCollect(in Inputs) {
	op := e.cur.writeOperand()

	if in.WriteBeatFired {
		e.beatOut = nil
		if e.lastBeat {
			e.state = engWriteAckWait
		}
		return
	}

	if in.Grant {
		e.awaiting = true
		return
	}

	if in.ReadResp != nil {
		e.awaiting = false
		e.packed = appendWordBytes(e.packed, in.ReadResp.Data, op.size)
		e.wordsDone++
		e.stats.WordsFromLocal++

		if len(e.packed) == e.config.BeatBytes || e.wordsDone == op.count {
			last := e.wordsDone == op.count
			data := e.packed
			// Zero-pad the unwritten high-order positions of a final
			// partial beat.
			for len(data) < e.config.BeatBytes {
				data = append(data, 0)
			}
			e.beatOut = &mem.Beat{Data: data, Last: last}
			e.lastBeat = last
			e.packed = nil
		}
	}
}

// Reset drops all queued and in-flight work and clears counters.
func (e *Engine) Reset() {
	e.queue.reset()
	e.state = engIdle
	e.cur = Request{}
	e.operand = 0
	e.wordsDone = 0
	e.pend = nil
	e.packed = nil
	e.beatOut = nil
	e.lastBeat = false
	e.awaiting = false
	e.stats = Stats{}
}

// wordsFromBeat unpacks n little-endian words of the given element size
// from beat data.
func wordsFromBeat(data []byte, size, n int) []uint32 {
	words := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		var w uint32
		for b := 0; b < size; b++ {
			idx := i*size + b
			if idx < len(data) {
				w |= uint32(data[idx]) << (8 * b)
			}
		}
		words = append(words, w)
	}
	return words
}

// appendWordBytes appends the low size bytes of a word, little-endian.
func appendWordBytes(dst []byte, w uint32, size int) []byte {
	for b := 0; b < size; b++ {
		dst = append(dst, byte(w>>(8*b)))
	}
	return dst
}
