// Package bus implements the shared snooping bus. At most one transaction
// is in flight; caches post requests into per-core slots and a round-robin
// arbiter picks the next winner whenever the bus is idle. A transaction
// snoops every peer cache at start, selects a data provider (a Modified
// peer, otherwise main memory behind a fixed latency) and then streams the
// block one word per cycle before filling the requester's line.
package bus

import (
	"github.com/oisee/quadcore-sim/pkg/cache"
	"github.com/oisee/quadcore-sim/pkg/mem"
)

// NumCores is the number of requesters sharing the bus.
const NumCores = 4

// MemoryProvider is the provider id announced when main memory sources the
// block; cache providers use their core id 0..3.
const MemoryProvider = 4

// MemoryLatency is the number of cycles a memory-sourced fill waits before
// the first flush word appears.
const MemoryLatency = 16

// Command is a bus command as it appears in the bus trace.
type Command uint8

const (
	None Command = iota
	BusRd
	BusRdX
	Flush
)

func (c Command) String() string {
	switch c {
	case None:
		return "NONE"
	case BusRd:
		return "BusRd"
	case BusRdX:
		return "BusRdX"
	case Flush:
		return "Flush"
	}
	return "?"
}

// Phase is the transaction state of the bus.
type Phase uint8

const (
	Idle Phase = iota
	Wait
	Flushing
)

// Request is one core's pending bus request. Losers of an arbitration round
// stay active and are reconsidered the next cycle.
type Request struct {
	Active bool
	Cmd    Command
	Addr   uint32
	Origin int
}

// Output is the set of signals the bus drives during one cycle; it is what
// the bus trace records. Cmd None means the bus is silent this cycle.
type Output struct {
	Cmd    Command
	OrigID int
	Addr   uint32
	Data   uint32
	Shared bool
}

// Bus is the shared bus plus the in-flight transaction state.
type Bus struct {
	Phase    Phase
	Cmd      Command
	Origin   int
	Addr     uint32
	Shared   bool
	Provider int
	Block    [cache.BlockWords]uint32
	Delay    int
	Index    int

	Out      Output
	Requests [NumCores]Request

	rrNext int
	caches [NumCores]*cache.Cache
	mem    mem.Memory
}

// New wires the bus to the four caches it snoops and the memory it reads
// and writes.
func New(caches [NumCores]*cache.Cache, m mem.Memory) *Bus {
	return &Bus{caches: caches, mem: m}
}

// Post queues a request in the originating core's slot. The Memory stage
// posts only when it is not already waiting on an outstanding request, so
// an active slot is never overwritten.
func (b *Bus) Post(origin int, cmd Command, addr uint32) {
	b.Requests[origin] = Request{Active: true, Cmd: cmd, Addr: addr & (mem.Words - 1), Origin: origin}
}

// ResetOutput silences the bus at the top of a cycle; arbitration and the
// flush logic re-drive it.
func (b *Bus) ResetOutput() {
	b.Out = Output{}
}

// Arbitrate picks a pending request round-robin and starts its transaction.
// No-op unless the bus is idle. The winner's slot is cleared and the
// rotation pointer moves one past it.
func (b *Bus) Arbitrate() {
	if b.Phase != Idle {
		return
	}
	chosen := -1
	for k := 0; k < NumCores; k++ {
		idx := (b.rrNext + k) % NumCores
		if b.Requests[idx].Active {
			chosen = idx
			break
		}
	}
	if chosen == -1 {
		return
	}
	b.rrNext = (chosen + 1) % NumCores
	req := b.Requests[chosen]
	b.Requests[chosen].Active = false
	b.start(req)
}

// start snapshots the request, snoops all peers and decides the data
// source. Peer transitions happen here, in the snoop cycle; the requester's
// own line is only touched at completion.
func (b *Bus) start(req Request) {
	b.Cmd = req.Cmd
	b.Origin = req.Origin
	b.Addr = req.Addr
	b.Shared = false
	b.Provider = -1
	b.Index = 0

	exclusive := req.Cmd == BusRdX
	for i := 0; i < NumCores; i++ {
		if i == req.Origin {
			continue
		}
		held, dirty := b.caches[i].Snoop(req.Addr, exclusive)
		if held {
			b.Shared = true
		}
		if dirty != nil {
			b.Provider = i
			b.Block = *dirty
		}
	}

	if b.Provider == -1 {
		b.Provider = MemoryProvider
		b.Block = b.mem.ReadBlock(cache.BlockBase(req.Addr))
		b.Delay = MemoryLatency
	} else {
		b.Delay = 0
	}
	b.Phase = Wait

	b.Out = Output{
		Cmd:    req.Cmd,
		OrigID: req.Origin,
		Addr:   req.Addr & (mem.Words - 1),
		Shared: b.Shared,
	}
}

// DriveOutput computes the flush-phase signals for this cycle. A transaction
// whose latency has drained enters the flush phase here, in the same cycle
// the first word is announced; during the wait phase the bus stays silent.
func (b *Bus) DriveOutput() {
	if b.Phase == Flushing {
		b.driveFlushWord()
	} else if b.Phase == Wait && b.Delay == 0 && b.Out.Cmd == None {
		b.Phase = Flushing
		b.Index = 0
		b.driveFlushWord()
	}
}

func (b *Bus) driveFlushWord() {
	b.Out = Output{
		Cmd:    Flush,
		OrigID: b.Provider,
		Addr:   cache.BlockBase(b.Addr) + uint32(b.Index),
		Data:   b.Block[b.Index],
		Shared: b.Shared,
	}
}

// AdvanceTiming moves the transaction clock at the end of the cycle:
// latency countdown during Wait, word index during Flushing. After the
// eighth flush word the transaction completes; the requester core id is
// returned so the scheduler can release its Memory stage.
func (b *Bus) AdvanceTiming() (origin int, completed bool) {
	switch {
	case b.Phase == Wait && b.Delay > 0:
		b.Delay--
	case b.Phase == Flushing && b.Out.Cmd == Flush:
		b.Index++
		if b.Index >= cache.BlockWords {
			origin = b.Origin
			b.complete()
			b.Phase = Idle
			b.Cmd = None
			return origin, true
		}
	}
	return 0, false
}

// complete finishes the transaction: main memory always receives the block
// (so it is brought up to date even on cache-to-cache transfers), then the
// requester's line is filled. BusRd yields S when any peer held the block
// at snoop time and E otherwise; BusRdX always yields M.
func (b *Bus) complete() {
	base := cache.BlockBase(b.Addr)
	b.mem.WriteBlock(base, b.Block)

	state := cache.Modified
	if b.Cmd == BusRd {
		if b.Shared {
			state = cache.Shared
		} else {
			state = cache.Exclusive
		}
	}
	b.caches[b.Origin].Fill(cache.Index(base), cache.Tag(base), b.Block, state, b.mem)
}
