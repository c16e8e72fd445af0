// Package system wires the orchestrator together: config surface, tile
// scheduler, prefetch engine, arbiter, bulk and local memories, and the
// compute model, driven by one global synchronous tick.
//
// Every component exposes its outputs as a pure function of current
// state. Each tick the harness snapshots all outputs, derives the
// handshake firings and arbitration grants from that frozen set, and
// only then lets every component commit its next state once. There is
// no same-tick read-after-write between components.
package system

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sarchlab/gemmsim/config"
	"github.com/sarchlab/gemmsim/elem"
	"github.com/sarchlab/gemmsim/mem"
	"github.com/sarchlab/gemmsim/timing/arbiter"
	"github.com/sarchlab/gemmsim/timing/compute"
	"github.com/sarchlab/gemmsim/timing/prefetch"
	"github.com/sarchlab/gemmsim/timing/scheduler"
)

// DefaultMaxTicks bounds Run when the caller does not.
const DefaultMaxTicks = 50_000_000

// System is the assembled orchestrator simulation.
type System struct {
	cfg     *config.Config
	control *config.Control

	bulk   *mem.BulkMemory
	local  *mem.LocalMemory
	arb    *arbiter.Arbiter
	engine *prefetch.Engine
	sched  *scheduler.Scheduler
	comp   *compute.Engine

	startPending bool
	cycles       uint64
}

// New builds a system from a validated configuration.
func New(cfg *config.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	local := mem.NewLocalMemory(cfg.NumBanks, cfg.LocalWords/cfg.NumBanks)
	s := &System{
		cfg:     cfg,
		control: config.NewControl(),
		bulk:    mem.NewBulkMemory(cfg.BulkConfig()),
		local:   local,
		arb:     arbiter.New(local),
		engine:  prefetch.NewEngine(cfg.PrefetchConfig(), local),
		sched:   scheduler.New(cfg.SchedulerParams()),
		comp:    compute.NewEngine(cfg.ComputeConfig(), local),
	}
	return s, nil
}

// Control returns the control surface.
func (s *System) Control() *config.Control { return s.control }

// Scheduler returns the tile scheduler.
func (s *System) Scheduler() *scheduler.Scheduler { return s.sched }

// Engine returns the prefetch engine.
func (s *System) Engine() *prefetch.Engine { return s.engine }

// Arbiter returns the local-memory arbiter.
func (s *System) Arbiter() *arbiter.Arbiter { return s.arb }

// Bulk returns the bulk memory model.
func (s *System) Bulk() *mem.BulkMemory { return s.bulk }

// Local returns the local memory model.
func (s *System) Local() *mem.LocalMemory { return s.local }

// Cycles returns the tick count since the last reset.
func (s *System) Cycles() uint64 { return s.cycles }

// Start requests a run start through the control surface. The start
// pulse reaches the scheduler on the next tick.
func (s *System) Start() bool {
	if !s.control.RequestStart(s.cfg) {
		return false
	}
	s.startPending = true
	return true
}

// Tick advances the whole system by one synchronous step.
func (s *System) Tick() {
	s.cycles++

	// Snapshot every component's outputs before anything commits.
	so := s.sched.Outputs()
	eo := s.engine.Outputs()
	co := s.comp.Outputs()
	bo := s.bulk.Outputs()

	// Per-bank arbitration over the requests asserted this tick; the
	// returned responses are the previous tick's granted reads.
	var reqs [arbiter.NumRequesters]arbiter.Request
	reqs[arbiter.Prefetch] = eo.LocalReq
	reqs[arbiter.Compute] = co.LocalReq
	grants, resps := s.arb.Tick(reqs)

	var engResp, compResp *arbiter.ReadResponse
	for i := range resps {
		r := resps[i]
		switch r.Requester {
		case arbiter.Prefetch:
			engResp = &r
		case arbiter.Compute:
			compResp = &r
		}
	}

	// Handshake firings, all derived from the frozen snapshot.
	accepted := so.Request != nil && eo.Ready
	bulkReqFired := eo.BulkReq != nil && bo.ReqReady
	beatTaken := bo.ReadBeat != nil && eo.BeatReady
	writeBeatFired := eo.WriteBeat != nil && bo.WriteBeatReady
	tileTaken := so.Tile != nil && co.TileReady

	if klog.V(3).Enabled() {
		if accepted {
			klog.Infof("tick %d: engine accepted %s request", s.cycles, so.Request.Kind)
		}
		if tileTaken {
			klog.Infof("tick %d: compute accepted tile (%d,%d,%d)",
				s.cycles, so.Tile.M, so.Tile.N, so.Tile.K)
		}
		if eo.Done {
			klog.Infof("tick %d: engine done pulse", s.cycles)
		}
	}

	start := s.startPending
	s.startPending = false

	// Commit phase: every component steps once from the snapshot.
	var enq *prefetch.Request
	if accepted {
		enq = so.Request
	}
	var readBeat *mem.Beat
	if beatTaken {
		readBeat = bo.ReadBeat
	}
	var bulkReq *mem.BulkRequest
	if bulkReqFired {
		bulkReq = eo.BulkReq
	}
	var writeBeat *mem.Beat
	if writeBeatFired {
		writeBeat = eo.WriteBeat
	}

	s.engine.Tick(prefetch.Inputs{
		Enq:            enq,
		BulkReqFired:   bulkReqFired,
		ReadBeat:       readBeat,
		WriteBeatFired: writeBeatFired,
		Grant:          grants[arbiter.Prefetch],
		ReadResp:       engResp,
		WriteAck:       bo.WriteAck,
	})
	s.sched.Tick(scheduler.Inputs{
		Start:       start,
		Accepted:    accepted,
		EngineDone:  eo.Done,
		TileTaken:   tileTaken,
		ComputeDone: co.Done,
	})
	s.comp.Tick(compute.Inputs{
		Tile:     so.Tile,
		Taken:    tileTaken,
		Grant:    grants[arbiter.Compute],
		ReadResp: compResp,
	})
	s.bulk.Tick(mem.BulkInputs{
		Req:       bulkReq,
		BeatTaken: beatTaken,
		WriteBeat: writeBeat,
	})

	if s.sched.Outputs().Done && s.control.Busy() {
		s.control.Finish()
		klog.V(2).Infof("run complete after %d cycles", s.cycles)
	}
	s.control.SetCounters(s.Counters())
}

// Run starts a run and ticks until done. maxTicks of zero applies
// DefaultMaxTicks; exceeding the bound returns an error.
func (s *System) Run(maxTicks uint64) error {
	if maxTicks == 0 {
		maxTicks = DefaultMaxTicks
	}
	if !s.Start() {
		return errors.New("start rejected by config surface")
	}
	for !s.control.Done() {
		if s.cycles >= maxTicks {
			return errors.Errorf("run exceeded %d ticks", maxTicks)
		}
		s.Tick()
	}
	return nil
}

// Counters assembles the performance counters the control surface
// exposes.
func (s *System) Counters() config.Counters {
	bulkStats := s.bulk.Stats()
	schedStats := s.sched.Stats()
	return config.Counters{
		Cycles:         s.cycles,
		BulkReadBeats:  bulkStats.ReadBeats,
		BulkWriteBeats: bulkStats.WriteBeats,
		Tiles:          schedStats.TilesCompleted,
		IdleCycles:     schedStats.IdleCycles,
	}
}

// Reset returns every component to its power-on state. Bulk storage
// contents are preserved; local memory is cleared.
func (s *System) Reset() {
	s.bulk.Reset()
	s.local.Reset()
	s.arb.Reset()
	s.engine.Reset()
	s.sched.Reset()
	s.comp.Reset()
	s.control.Reset()
	s.startPending = false
	s.cycles = 0
}

// LoadOperandA writes operand A values row-major at the configured bulk
// base, encoded per the operand's element type.
func (s *System) LoadOperandA(values []float64) {
	s.loadOperand(s.cfg.BulkBaseA, s.cfg.ElemSizeA, values)
}

// LoadOperandB writes operand B values row-major at the configured bulk
// base.
func (s *System) LoadOperandB(values []float64) {
	s.loadOperand(s.cfg.BulkBaseB, s.cfg.ElemSizeB, values)
}

func (s *System) loadOperand(base uint64, size int, values []float64) {
	t := elem.TypeForSize(size)
	for idx, v := range values {
		w := t.Encode(v)
		for b := 0; b < size; b++ {
			s.bulk.WriteByte(base+uint64(idx*size+b), byte(w>>(8*b)))
		}
	}
}

// ReadResult decodes count C elements from the configured bulk base.
func (s *System) ReadResult(count int) []float64 {
	t := elem.TypeForSize(s.cfg.ElemSizeC)
	size := s.cfg.ElemSizeC
	out := make([]float64, count)
	for idx := range out {
		var w uint32
		for b := 0; b < size; b++ {
			w |= uint32(s.bulk.ReadByte(s.cfg.BulkBaseC+uint64(idx*size+b))) << (8 * b)
		}
		out[idx] = t.Decode(w)
	}
	return out
}
