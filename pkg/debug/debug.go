// Package debug provides an interactive cycle stepper over a machine: the
// four pipelines, register files, bus state and statistics rendered per
// cycle, advancing the global clock one tick at a time. Batch outputs are
// untouched; this is a lens, not a mode of the simulation itself.
package debug

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"github.com/oisee/quadcore-sim/pkg/bus"
	"github.com/oisee/quadcore-sim/pkg/core"
	"github.com/oisee/quadcore-sim/pkg/isa"
	"github.com/oisee/quadcore-sim/pkg/machine"
)

var (
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			Padding(0, 1)
	selectedStyle = paneStyle.BorderForeground(lipgloss.Color("6"))
	titleStyle    = lipgloss.NewStyle().Bold(true)
)

// runBatch bounds how many cycles a single "run" keypress may burn before
// giving control back, so a livelocked program cannot wedge the UI.
const runBatch = 100000

type model struct {
	m        *machine.Machine
	selected int
	finished bool
}

func (md model) Init() tea.Cmd { return nil }

func (md model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return md, nil
	}
	switch s := key.String(); s {
	case "q", "ctrl+c":
		return md, tea.Quit
	case " ", "j":
		md.step(1)
	case "n":
		md.step(100)
	case "r":
		md.step(runBatch)
	case "0", "1", "2", "3":
		md.selected = int(s[0] - '0')
	}
	return md, nil
}

func (md *model) step(n int) {
	for i := 0; i < n && !md.finished; i++ {
		if !md.m.Step() {
			md.finished = true
		}
	}
}

func stageField(valid bool, inst isa.Instruction) string {
	if !valid {
		return "---"
	}
	return fmt.Sprintf("%03X", inst.PC&(isa.IMemSize-1))
}

func (md model) corePane(c *core.Core) string {
	var sb strings.Builder
	status := "running"
	switch {
	case c.Done:
		status = "done"
	case c.Halted:
		status = "halted"
	}
	fmt.Fprintf(&sb, "%s  %s\n", titleStyle.Render(fmt.Sprintf("core %d", c.ID)), status)
	fmt.Fprintf(&sb, "F:%s D:%s E:%s M:%s W:%s\n",
		stageField(c.Fetch.Valid, c.Fetch.Inst),
		stageField(c.Decode.Valid, c.Decode.Inst),
		stageField(c.Exec.Valid, c.Exec.Inst),
		stageField(c.Mem.Valid, c.Mem.Inst),
		stageField(c.WB.Valid, c.WB.Inst))
	for r := 2; r < core.NumRegs; r += 2 {
		fmt.Fprintf(&sb, "R%-2d %08X  R%-2d %08X\n", r, c.Regs[r], r+1, c.Regs[r+1])
	}
	fmt.Fprintf(&sb, "stall d/m %d/%d  miss r/w %d/%d",
		c.Stats.DecodeStall, c.Stats.MemStall,
		c.Stats.ReadMiss, c.Stats.WriteMiss)

	if c.ID == md.selected {
		return selectedStyle.Render(sb.String())
	}
	return paneStyle.Render(sb.String())
}

func (md model) busPane() string {
	b := md.m.Bus
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  cycle %d\n", titleStyle.Render("bus"), md.m.Cycle)
	phase := "idle"
	switch b.Phase {
	case bus.Wait:
		phase = fmt.Sprintf("wait (%d left)", b.Delay)
	case bus.Flushing:
		phase = fmt.Sprintf("flush word %d/8", b.Index)
	}
	fmt.Fprintf(&sb, "phase %s\n", phase)
	if b.Phase != bus.Idle {
		fmt.Fprintf(&sb, "%s origin %d addr %05X provider %d shared %v\n",
			b.Cmd, b.Origin, b.Addr, b.Provider, b.Shared)
	}
	for i, req := range b.Requests {
		if req.Active {
			fmt.Fprintf(&sb, "req[%d] %s %05X\n", i, req.Cmd, req.Addr)
		}
	}
	return paneStyle.Render(sb.String())
}

func (md model) View() string {
	cores := make([]string, 0, machine.NumCores)
	for _, c := range md.m.Cores {
		cores = append(cores, md.corePane(c))
	}

	sel := md.m.Cores[md.selected]
	inspect := fmt.Sprintf("decode latch (core %d):\n", md.selected)
	if sel.Decode.Valid {
		inspect += sel.Decode.Inst.Disassemble() + "\n" + spew.Sdump(sel.Decode.Inst)
	} else {
		inspect += "empty\n"
	}

	footer := "space/j step  n x100  r run  0-3 select core  q quit"
	if md.finished {
		footer = "simulation finished  q quit"
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, cores...),
		lipgloss.JoinHorizontal(lipgloss.Top, md.busPane(), paneStyle.Render(inspect)),
		footer,
	)
}

// Run opens the stepper on m and blocks until the user quits.
func Run(m *machine.Machine) error {
	_, err := tea.NewProgram(model{m: m}).Run()
	return err
}
