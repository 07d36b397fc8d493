package machine

import (
	"fmt"
	"strings"

	"github.com/oisee/quadcore-sim/pkg/bus"
	"github.com/oisee/quadcore-sim/pkg/core"
	"github.com/oisee/quadcore-sim/pkg/isa"
	"github.com/oisee/quadcore-sim/pkg/mem"
)

// stagePC renders a stage field: the 3-hex-digit PC of the occupying
// instruction, or --- for an empty latch.
func stagePC(valid bool, inst isa.Instruction) string {
	if !valid {
		return "---"
	}
	return fmt.Sprintf("%03X", inst.PC&(isa.IMemSize-1))
}

// CoreTraceLine formats one coreNtrace.txt line: cycle, the five stage
// fields (Fetch, Decode, Execute, Memory, Writeback), then registers
// R2..R15.
func CoreTraceLine(cycle int, c *core.Core) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s %s %s %s %s",
		cycle,
		stagePC(c.Fetch.Valid, c.Fetch.Inst),
		stagePC(c.Decode.Valid, c.Decode.Inst),
		stagePC(c.Exec.Valid, c.Exec.Inst),
		stagePC(c.Mem.Valid, c.Mem.Inst),
		stagePC(c.WB.Valid, c.WB.Inst))
	for _, r := range c.Regs[2:] {
		fmt.Fprintf(&sb, " %08X", r)
	}
	sb.WriteByte('\n')
	return sb.String()
}

// BusTraceLine formats one bustrace.txt line: cycle, origid, cmd, the
// 20-bit word address, data and the shared wire, with widths 1/1/5/8/1.
func BusTraceLine(cycle int, out bus.Output) string {
	shared := 0
	if out.Shared {
		shared = 1
	}
	return fmt.Sprintf("%d %X %X %05X %08X %X\n",
		cycle, out.OrigID, uint8(out.Cmd), out.Addr&(mem.Words-1), out.Data, shared)
}
