// Package compute provides a behavioral model of the compute engine
// that consumes ready tiles. It streams operand words out of local
// memory through the arbiter (retrying on denied ticks), accumulates
// the C tile across the k loop, writes the finished C tile back to
// local memory, and pulses completion to the scheduler.
package compute

import (
	"github.com/sarchlab/gemmsim/elem"
	"github.com/sarchlab/gemmsim/mem"
	"github.com/sarchlab/gemmsim/timing/arbiter"
	"github.com/sarchlab/gemmsim/timing/scheduler"
)

// Config holds the compute model parameters.
type Config struct {
	// TileM, TileN, TileK are the tile dimensions.
	TileM, TileN, TileK int
	// ElemA, ElemB, ElemC are the operand element types.
	ElemA, ElemB, ElemC elem.Type
}

// Stats holds compute model counters.
type Stats struct {
	// TilesAccepted counts accepted tile-ready handshakes.
	TilesAccepted uint64
	// WordsRead counts operand words read from local memory.
	WordsRead uint64
	// WordsWritten counts C words written to local memory.
	WordsWritten uint64
	// DeniedCycles counts ticks a request was denied by the arbiter.
	DeniedCycles uint64
}

// compState enumerates the model's phases.
type compState int

const (
	compIdle compState = iota
	compReadB
	compReadA
	compWriteC
	compDone
)

// Inputs carries the signals the model samples each tick.
type Inputs struct {
	// Tile is the tile currently offered by the scheduler, or nil.
	Tile *scheduler.Tile
	// Taken is true when the handshake fired this tick.
	Taken bool
	// Grant is true when the asserted local-memory request was granted.
	Grant bool
	// ReadResp is local read data delivered this tick, or nil.
	ReadResp *arbiter.ReadResponse
}

// Outputs is the model's output set, a pure function of current state.
type Outputs struct {
	// TileReady is true while the model can accept a tile.
	TileReady bool
	// Done pulses for one tick when the tile's compute step finishes.
	Done bool
	// LocalReq is the local-memory access asserted this tick.
	LocalReq arbiter.Request
}

// Engine is the behavioral compute model. Per k-tile it reads operand B
// one row at a time, streams the matching A column entries, and
// multiply-accumulates into a private C accumulator; on the last k-tile
// it drains the accumulator into the local C region before signaling
// done.
type Engine struct {
	config Config
	local  *mem.LocalMemory

	state compState
	tile  scheduler.Tile

	l, i, j  int
	idx      int
	rowB     []float64
	acc      []float64
	awaiting bool

	stats Stats
}

// NewEngine creates a compute model over the given local memory.
func NewEngine(config Config, local *mem.LocalMemory) *Engine {
	return &Engine{
		config: config,
		local:  local,
		rowB:   make([]float64, config.TileN),
		acc:    make([]float64, config.TileM*config.TileN),
	}
}

// Stats returns the model counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Outputs derives the current-tick output signals.
func (e *Engine) Outputs() Outputs {
	out := Outputs{
		TileReady: e.state == compIdle,
		Done:      e.state == compDone,
	}

	switch e.state {
	case compReadB:
		if !e.awaiting {
			addr := e.tile.LocalB + uint32(e.l*e.config.TileN+e.j)
			out.LocalReq = e.readReq(addr)
		}

	case compReadA:
		if !e.awaiting {
			addr := e.tile.LocalA + uint32(e.i*e.config.TileK+e.l)
			out.LocalReq = e.readReq(addr)
		}

	case compWriteC:
		addr := e.tile.LocalC + uint32(e.idx)
		out.LocalReq = arbiter.Request{
			Valid:   true,
			Bank:    e.local.Bank(addr),
			Addr:    addr,
			IsWrite: true,
			Data:    e.config.ElemC.Encode(e.acc[e.idx]),
		}
	}

	return out
}

func (e *Engine) readReq(addr uint32) arbiter.Request {
	return arbiter.Request{
		Valid: true,
		Bank:  e.local.Bank(addr),
		Addr:  addr,
	}
}

// Tick commits one step of the compute model.
func (e *Engine) Tick(in Inputs) {
	switch e.state {
	case compIdle:
		if in.Taken && in.Tile != nil {
			e.accept(*in.Tile)
		}

	case compReadB:
		e.tickReadB(in)

	case compReadA:
		e.tickReadA(in)

	case compWriteC:
		if in.Grant {
			e.stats.WordsWritten++
			e.idx++
			if e.idx == len(e.acc) {
				e.state = compDone
			}
		} else {
			e.stats.DeniedCycles++
		}

	case compDone:
		e.state = compIdle
	}
}

// accept latches a taken tile and primes the iteration state.
func (e *Engine) accept(t scheduler.Tile) {
	e.tile = t
	e.stats.TilesAccepted++
	if t.FirstK {
		for i := range e.acc {
			e.acc[i] = 0
		}
	}
	e.l, e.i, e.j = 0, 0, 0
	e.idx = 0
	e.awaiting = false
	e.state = compReadB
}

func (e *Engine) tickReadB(in Inputs) {
	if !e.awaiting {
		if in.Grant {
			e.awaiting = true
		} else {
			e.stats.DeniedCycles++
		}
		return
	}
	if in.ReadResp != nil {
		e.awaiting = false
		e.stats.WordsRead++
		e.rowB[e.j] = e.config.ElemB.Decode(in.ReadResp.Data)
		e.j++
		if e.j == e.config.TileN {
			e.j = 0
			e.i = 0
			e.state = compReadA
		}
	}
}

func (e *Engine) tickReadA(in Inputs) {
	if !e.awaiting {
		if in.Grant {
			e.awaiting = true
		} else {
			e.stats.DeniedCycles++
		}
		return
	}
	if in.ReadResp != nil {
		e.awaiting = false
		e.stats.WordsRead++
		a := e.config.ElemA.Decode(in.ReadResp.Data)
		row := e.i * e.config.TileN
		for j := 0; j < e.config.TileN; j++ {
			e.acc[row+j] += a * e.rowB[j]
		}
		e.i++
		if e.i == e.config.TileM {
			e.i = 0
			e.l++
			if e.l < e.config.TileK {
				e.state = compReadB
			} else if e.tile.LastK {
				e.idx = 0
				e.state = compWriteC
			} else {
				e.state = compDone
			}
		}
	}
}

// Reset returns the model to idle and clears counters. The accumulator
// is cleared as well.
func (e *Engine) Reset() {
	e.state = compIdle
	e.tile = scheduler.Tile{}
	e.l, e.i, e.j, e.idx = 0, 0, 0, 0
	e.awaiting = false
	for i := range e.acc {
		e.acc[i] = 0
	}
	e.stats = Stats{}
}
