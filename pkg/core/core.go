// Package core implements one in-order five-stage pipelined core: the
// stage latches, hazard-driven stalls, decode-time branch resolution with a
// single delay slot, the Memory-stage cache/bus interlock and the per-core
// statistics. A core never touches the bus or a peer directly; misses are
// posted as requests and the scheduler releases the Memory stage when the
// transaction completes.
package core

import (
	"fmt"
	"io"

	"github.com/oisee/quadcore-sim/pkg/bus"
	"github.com/oisee/quadcore-sim/pkg/cache"
	"github.com/oisee/quadcore-sim/pkg/isa"
	"github.com/oisee/quadcore-sim/pkg/mem"
)

// NumRegs is the architectural register file size. R0 is hard-wired zero
// and R1 mirrors the immediate of the instruction currently in Decode; both
// are read-only to programs.
const NumRegs = 16

// FetchLatch holds the instruction fetched last cycle, waiting for Decode.
type FetchLatch struct {
	Valid bool
	Inst  isa.Instruction
}

// DecodeLatch holds the instruction being decoded and hazard-checked.
type DecodeLatch struct {
	Valid bool
	Inst  isa.Instruction
}

// ExecLatch carries the three register values read at Decode time; with no
// forwarding they are the only operand path into Execute.
type ExecLatch struct {
	Valid bool
	Inst  isa.Instruction
	RsVal int32
	RtVal int32
	RdVal int32
}

// MemLatch is the Memory-stage state. Miss is sticky for the lifetime of
// the instruction so the miss counters count it exactly once; Waiting pins
// the stage while the bus transaction is outstanding, which also keeps the
// request from being posted again. RequestQueued is set on the pre-cycle
// latch when a request is posted and is not carried into the next cycle.
type MemLatch struct {
	Valid         bool
	Inst          isa.Instruction
	ALUResult     uint32
	Addr          uint32
	StoreData     uint32
	IsLoad        bool
	IsStore       bool
	Miss          bool
	Waiting       bool
	RequestQueued bool
	LoadValue     uint32
}

// WBLatch holds the value about to be committed to the register file.
type WBLatch struct {
	Valid bool
	Inst  isa.Instruction
	Value uint32
}

// Stats are the per-core counters dumped to statsN.txt.
type Stats struct {
	Cycles       uint32
	Instructions uint32
	ReadHit      uint32
	WriteHit     uint32
	ReadMiss     uint32
	WriteMiss    uint32
	DecodeStall  uint32
	MemStall     uint32
}

// Core is one of the four processors.
type Core struct {
	ID   int
	IMem [isa.IMemSize]uint32
	Regs [NumRegs]uint32
	PC   int

	RedirectPending bool
	RedirectPC      int
	StopFetch       bool
	Halted          bool
	Done            bool

	Fetch  FetchLatch
	Decode DecodeLatch
	Exec   ExecLatch
	Mem    MemLatch
	WB     WBLatch

	Cache *cache.Cache
	Stats Stats

	// BranchTrace, when set, receives one diagnostic line per resolved
	// conditional branch. Enabled by SIM_DEBUG_BRANCH; not part of any
	// batch output.
	BranchTrace io.Writer
}

// New builds a core with the given instruction memory image (shorter images
// are zero padded). Reset state: Fetch prefilled with the instruction at
// address 0, all other latches empty, registers zero. If the very first
// instruction is already HALT, fetch stops immediately so no further
// instructions enter the pipeline.
func New(id int, imem []uint32) *Core {
	c := &Core{ID: id, Cache: &cache.Cache{}}
	copy(c.IMem[:], imem)

	first := isa.Decode(c.IMem[0], 0)
	c.Fetch = FetchLatch{Valid: true, Inst: first}
	if first.Op == isa.HALT {
		c.StopFetch = true
	}
	c.PC = 1
	return c
}

// Active reports whether any pipeline latch holds an instruction. Trace
// lines are only emitted for active cores.
func (c *Core) Active() bool {
	return c.Fetch.Valid || c.Decode.Valid || c.Exec.Valid || c.Mem.Valid || c.WB.Valid
}

// CommitWriteback retires the Writeback-stage instruction: the register
// write lands, the instruction counter ticks and HALT raises the halted
// flag. Runs before the stage logic of the same cycle, so Decode's hazard
// check still sees this instruction as in flight.
func (c *Core) CommitWriteback() {
	if !c.WB.Valid {
		return
	}
	if dst := c.WB.Inst.DestReg(); dst >= 0 {
		c.Regs[dst] = c.WB.Value
	}
	c.Stats.Instructions++
	if c.WB.Inst.Op == isa.HALT {
		c.Halted = true
	}
}

// ReleaseMem clears the Memory-stage wait after the bus completed this
// core's fill. The re-lookup happens next cycle and hits; the sticky miss
// flag keeps the counters from double counting.
func (c *Core) ReleaseMem() {
	if c.Mem.Valid && c.Mem.Waiting {
		c.Mem.Waiting = false
	}
}

// Advance computes one cycle of pipeline state. Stages are evaluated
// back-to-front (Memory, Execute, Decode, Fetch) into shadow latches that
// are committed at the end, so every stage observes the pre-cycle state of
// its neighbours. Misses post requests on b; the cycle counter stops once
// the core is done.
func (c *Core) Advance(b *bus.Bus, cycle int) {
	if !c.Done {
		c.Stats.Cycles++
	}

	var nextWB WBLatch
	nextMem := c.Mem
	nextExec := c.Exec
	nextDecode := c.Decode
	nextFetch := c.Fetch

	memAdvances := false

	// Memory stage. A waiting stage only burns a stall cycle; otherwise
	// LW/SW run the cache lookup and either complete or go to the bus.
	if c.Mem.Valid {
		if c.Mem.Waiting {
			c.Stats.MemStall++
		} else if c.Mem.Inst.Op.IsMemOp() {
			counted := c.Mem.Miss
			state, hit := c.Cache.Lookup(c.Mem.Addr)
			// A store needs ownership: a Shared line is as much a
			// miss for SW as an Invalid one.
			usable := hit && !(c.Mem.Inst.Op == isa.SW && state == cache.Shared)
			if !counted {
				switch {
				case usable && c.Mem.Inst.Op == isa.LW:
					c.Stats.ReadHit++
				case usable:
					c.Stats.WriteHit++
				case c.Mem.Inst.Op == isa.LW:
					c.Stats.ReadMiss++
				default:
					c.Stats.WriteMiss++
				}
			}

			if !usable {
				if !c.Mem.RequestQueued {
					cmd := bus.BusRd
					if c.Mem.Inst.Op == isa.SW {
						cmd = bus.BusRdX
					}
					b.Post(c.ID, cmd, c.Mem.Addr)
					c.Mem.RequestQueued = true
				}
				nextMem.Miss = true
				nextMem.Waiting = true
				c.Stats.MemStall++
			} else {
				if c.Mem.Inst.Op == isa.LW {
					nextMem.LoadValue = c.Cache.Read(c.Mem.Addr)
					nextWB = WBLatch{Valid: true, Inst: c.Mem.Inst, Value: nextMem.LoadValue}
				} else {
					c.Cache.Write(c.Mem.Addr, c.Mem.StoreData)
					if state == cache.Exclusive {
						c.Cache.SetState(c.Mem.Addr, cache.Modified)
					}
					nextWB = WBLatch{Valid: true, Inst: c.Mem.Inst}
				}
				nextMem.Valid = false
				memAdvances = true
			}
		} else {
			nextWB = WBLatch{Valid: true, Inst: c.Mem.Inst, Value: c.Mem.ALUResult}
			nextMem.Valid = false
			memAdvances = true
		}
	}

	memFreeNext := !c.Mem.Valid || memAdvances
	execCanMove := c.Exec.Valid && memFreeNext
	execFreeNext := !c.Exec.Valid || execCanMove

	// Execute stage: ALU result for computational ops, effective address
	// and store data for LW/SW.
	if execCanMove {
		inst := c.Exec.Inst
		nextExec.Valid = false
		nextMem = MemLatch{Valid: true, Inst: inst}
		if inst.Op.IsMemOp() {
			addr := uint32(c.Exec.RsVal + c.Exec.RtVal)
			nextMem.Addr = addr & (mem.Words - 1)
			nextMem.StoreData = uint32(c.Exec.RdVal)
			nextMem.IsLoad = inst.Op == isa.LW
			nextMem.IsStore = inst.Op == isa.SW
		} else {
			nextMem.ALUResult = isa.ALU(inst, c.Exec.RsVal, c.Exec.RtVal)
		}
	}

	// Decode stage: R1 tracks the immediate of whatever sits in Decode,
	// stalled or not, and is rewritten before hazard detection so
	// immediate operands never count as hazards. Without forwarding, any
	// in-flight writer to a source register forces a stall.
	decodeStall := false
	if c.Decode.Valid {
		c.Regs[1] = uint32(c.Decode.Inst.Imm)
		var srcBuf [3]int
		for _, reg := range c.Decode.Inst.SourceRegs(srcBuf[:0]) {
			if reg <= 1 {
				continue
			}
			if c.Exec.Valid && c.Exec.Inst.DestReg() == reg {
				decodeStall = true
			}
			if c.Mem.Valid && c.Mem.Inst.DestReg() == reg {
				decodeStall = true
			}
			if c.WB.Valid && c.WB.Inst.DestReg() == reg {
				decodeStall = true
			}
		}
		if !execFreeNext {
			decodeStall = true
		}
		if decodeStall {
			c.Stats.DecodeStall++
		}
	}

	decodeMoves := c.Decode.Valid && !decodeStall && execFreeNext
	decodeFreeNext := !c.Decode.Valid || decodeMoves
	fetchMoves := c.Fetch.Valid && decodeFreeNext

	if decodeMoves {
		inst := c.Decode.Inst
		nextExec = ExecLatch{
			Valid: true,
			Inst:  inst,
			RsVal: int32(c.Regs[inst.Rs]),
			RtVal: int32(c.Regs[inst.Rt]),
			RdVal: int32(c.Regs[inst.Rd]),
		}

		// Branches and JAL resolve here. The redirect is latched, so
		// the instruction Fetch already produced this cycle becomes
		// the delay slot. The target lives in regs[rd]; with R1
		// mirroring the immediate that covers absolute targets too.
		if inst.Op.IsBranch() {
			taken := isa.Compare(inst.Op, nextExec.RsVal, nextExec.RtVal)
			if c.BranchTrace != nil {
				fmt.Fprintf(c.BranchTrace,
					"cycle %d core%d branch pc %03X rs=%08X rt=%08X taken=%v target=%03X\n",
					cycle, c.ID, inst.PC&(isa.IMemSize-1),
					uint32(nextExec.RsVal), uint32(nextExec.RtVal),
					taken, int(c.Regs[inst.Rd])&(isa.IMemSize-1))
			}
			if taken {
				c.RedirectPending = true
				c.RedirectPC = int(c.Regs[inst.Rd]) & (isa.IMemSize - 1)
			}
		} else if inst.Op == isa.JAL {
			c.RedirectPending = true
			c.RedirectPC = int(c.Regs[inst.Rd]) & (isa.IMemSize - 1)
		}

		c.Regs[1] = uint32(inst.Imm)
		nextDecode.Valid = false
	} else if !decodeStall {
		nextDecode.Valid = false
	}

	if fetchMoves {
		nextDecode = DecodeLatch{Valid: true, Inst: c.Fetch.Inst}
	}

	// Fetch stage: produce the next instruction unless a HALT has been
	// seen or Decode stays blocked. A pending redirect wins over the
	// sequential PC.
	if !c.StopFetch && decodeFreeNext {
		if c.RedirectPending {
			inst := isa.Decode(c.IMem[c.RedirectPC], c.RedirectPC)
			nextFetch = FetchLatch{Valid: true, Inst: inst}
			if inst.Op == isa.HALT {
				c.StopFetch = true
			}
			c.PC = (c.RedirectPC + 1) & (isa.IMemSize - 1)
			c.RedirectPending = false
		} else {
			inst := isa.Decode(c.IMem[c.PC], c.PC)
			nextFetch = FetchLatch{Valid: true, Inst: inst}
			if inst.Op == isa.HALT {
				c.StopFetch = true
			}
			c.PC = (c.PC + 1) & (isa.IMemSize - 1)
		}
	} else if fetchMoves {
		nextFetch.Valid = false
	}

	c.WB = nextWB
	c.Mem = nextMem
	c.Exec = nextExec
	c.Decode = nextDecode
	c.Fetch = nextFetch

	if c.Halted && !c.Active() {
		c.Done = true
	}
}
