package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oisee/quadcore-sim/pkg/cache"
	"github.com/oisee/quadcore-sim/pkg/mem"
)

func newBus() (*Bus, [NumCores]*cache.Cache, mem.Memory) {
	var caches [NumCores]*cache.Cache
	for i := range caches {
		caches[i] = &cache.Cache{}
	}
	m := mem.New()
	return New(caches, m), caches, m
}

// cycle runs the bus phases of one machine cycle.
func cycle(b *Bus) (Output, int, bool) {
	b.ResetOutput()
	b.Arbitrate()
	b.DriveOutput()
	out := b.Out
	origin, completed := b.AdvanceTiming()
	return out, origin, completed
}

func TestMemorySourcedFillTiming(t *testing.T) {
	b, caches, m := newBus()
	for i := 0; i < cache.BlockWords; i++ {
		m.Write(uint32(i), uint32(0xBEEF0+i))
	}

	b.Post(0, BusRd, 0)
	out, _, _ := cycle(b)
	assert.Equal(t, BusRd, out.Cmd)
	assert.Equal(t, 0, out.OrigID)
	assert.False(t, out.Shared)

	// memory keeps the bus silent for the latency window
	for i := 1; i < MemoryLatency; i++ {
		out, _, _ = cycle(b)
		assert.Equal(t, None, out.Cmd, "cycle %d", i)
	}

	// then the eight flush words stream, one per cycle, from provider 4
	var completed bool
	var origin int
	for i := 0; i < cache.BlockWords; i++ {
		out, origin, completed = cycle(b)
		assert.Equal(t, Flush, out.Cmd, "word %d", i)
		assert.Equal(t, MemoryProvider, out.OrigID)
		assert.Equal(t, uint32(i), out.Addr)
		assert.Equal(t, uint32(0xBEEF0+i), out.Data)
	}
	require.True(t, completed)
	assert.Equal(t, 0, origin)
	assert.Equal(t, Idle, b.Phase)

	// unshared BusRd fills Exclusive
	state, hit := caches[0].Lookup(0)
	require.True(t, hit)
	assert.Equal(t, cache.Exclusive, state)
	assert.Equal(t, uint32(0xBEEF0), caches[0].Read(0))
}

func TestPeerProvidedFill(t *testing.T) {
	b, caches, m := newBus()

	var dirty [cache.BlockWords]uint32
	for i := range dirty {
		dirty[i] = uint32(0x500 + i)
	}
	caches[1].Fill(cache.Index(0), cache.Tag(0), dirty, cache.Modified, m)

	b.Post(0, BusRd, 3) // word 3 of block 0
	out, _, _ := cycle(b)
	assert.Equal(t, BusRd, out.Cmd)
	assert.True(t, out.Shared)

	// no memory latency: flush starts next cycle, sourced by core 1
	var completed bool
	for i := 0; i < cache.BlockWords; i++ {
		out, _, completed = cycle(b)
		assert.Equal(t, Flush, out.Cmd, "word %d", i)
		assert.Equal(t, 1, out.OrigID)
		assert.Equal(t, uint32(0x500+i), out.Data)
	}
	require.True(t, completed)

	// provider downgraded, requester shared, memory brought up to date
	assert.Equal(t, cache.Shared, caches[1].States[0])
	state, hit := caches[0].Lookup(3)
	require.True(t, hit)
	assert.Equal(t, cache.Shared, state)
	for i := 0; i < cache.BlockWords; i++ {
		assert.Equal(t, uint32(0x500+i), m.Read(uint32(i)))
	}
}

func TestBusRdXInvalidatesAndFillsModified(t *testing.T) {
	b, caches, m := newBus()
	caches[1].Fill(0, 0, [cache.BlockWords]uint32{}, cache.Shared, m)
	caches[3].Fill(0, 0, [cache.BlockWords]uint32{}, cache.Shared, m)

	b.Post(2, BusRdX, 0)
	out, _, _ := cycle(b)
	assert.Equal(t, BusRdX, out.Cmd)
	assert.True(t, out.Shared)
	assert.Equal(t, cache.Invalid, caches[1].States[0], "snoop invalidates at start")
	assert.Equal(t, cache.Invalid, caches[3].States[0])

	for b.Phase != Idle {
		cycle(b)
	}
	assert.Equal(t, cache.Modified, caches[2].States[0], "BusRdX fills M unconditionally")
}

func TestRoundRobinFairness(t *testing.T) {
	b, _, _ := newBus()
	// distinct blocks so snoops stay out of the picture
	for id := 0; id < NumCores; id++ {
		b.Post(id, BusRd, uint32(id*cache.BlockWords))
	}

	var winners []int
	for len(winners) < NumCores {
		out, _, _ := cycle(b)
		if out.Cmd == BusRd {
			winners = append(winners, out.OrigID)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3}, winners)
}

func TestLosersStayQueued(t *testing.T) {
	b, _, _ := newBus()
	b.Post(1, BusRd, 8)
	b.Post(2, BusRd, 16)

	cycle(b)
	assert.False(t, b.Requests[1].Active, "winner slot cleared")
	assert.True(t, b.Requests[2].Active, "loser reconsidered next time")
}
