// Package machine owns the whole simulated system: four cores, the
// snooping bus and main memory, driven by one global clock. Its job is the
// strict intra-cycle ordering that makes the three coupled state machines
// (pipeline, cache, bus) deterministic: traces are emitted from pre-cycle
// latch state, writebacks commit, the pipelines compute their next state,
// then the bus arbitrates, drives its outputs and advances its timing.
package machine

import (
	"io"

	"github.com/oisee/quadcore-sim/pkg/bus"
	"github.com/oisee/quadcore-sim/pkg/cache"
	"github.com/oisee/quadcore-sim/pkg/core"
	"github.com/oisee/quadcore-sim/pkg/mem"
)

// NumCores is the number of processors in the system.
const NumCores = bus.NumCores

// Machine is the complete simulated multiprocessor.
type Machine struct {
	Cores [NumCores]*core.Core
	Bus   *bus.Bus
	Mem   mem.Memory

	Cycle int

	// MaxCycles aborts the run once Cycle reaches it; negative means
	// no cap. Load maps SIM_MAX_CYCLES onto it.
	MaxCycles int

	// Trace sinks; nil writers suppress the corresponding trace.
	CoreTraces [NumCores]io.Writer
	BusTrace   io.Writer
}

// New assembles a machine from four instruction memory images and an
// initial main memory image (both zero padded; memImage may be nil).
func New(imems [NumCores][]uint32, memImage []uint32) *Machine {
	m := &Machine{Mem: mem.New(), MaxCycles: -1}
	copy(m.Mem, memImage)

	var caches [NumCores]*cache.Cache
	for i := range m.Cores {
		m.Cores[i] = core.New(i, imems[i])
		caches[i] = m.Cores[i].Cache
	}
	m.Bus = bus.New(caches, m.Mem)
	return m
}

// Step executes one full clock cycle and reports whether the simulation
// should continue. The phase order is load-bearing; see the package
// comment.
func (m *Machine) Step() bool {
	m.Bus.ResetOutput()

	// Pipeline traces show the latches as they stood at the start of the
	// cycle, with the register file as of the previous writeback.
	for _, c := range m.Cores {
		if w := m.CoreTraces[c.ID]; w != nil && c.Active() {
			io.WriteString(w, CoreTraceLine(m.Cycle, c))
		}
	}

	for _, c := range m.Cores {
		c.CommitWriteback()
	}
	for _, c := range m.Cores {
		c.Advance(m.Bus, m.Cycle)
	}

	m.Bus.Arbitrate()
	m.Bus.DriveOutput()
	if m.BusTrace != nil && m.Bus.Out.Cmd != bus.None {
		io.WriteString(m.BusTrace, BusTraceLine(m.Cycle, m.Bus.Out))
	}
	if origin, completed := m.Bus.AdvanceTiming(); completed {
		m.Cores[origin].ReleaseMem()
	}

	if m.MaxCycles >= 0 && m.Cycle >= m.MaxCycles {
		return false
	}

	allDone := true
	for _, c := range m.Cores {
		if !c.Done {
			allDone = false
		}
	}
	if allDone && m.Bus.Phase == bus.Idle {
		return false
	}

	m.Cycle++
	return true
}

// Run steps the machine until every core is done and the bus is idle, or
// the cycle cap is hit.
func (m *Machine) Run() {
	for m.Step() {
	}
}
