package machine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/oisee/quadcore-sim/pkg/cache"
	"github.com/oisee/quadcore-sim/pkg/core"
	"github.com/oisee/quadcore-sim/pkg/hexfile"
	"github.com/oisee/quadcore-sim/pkg/isa"
	"github.com/oisee/quadcore-sim/pkg/mem"
)

// NumFiles is the number of filenames a fully-specified invocation takes.
const NumFiles = 27

// FileSet names every input and output of a simulation run, in the fixed
// command-line order: imem0..3, memin, memout, regout0..3, coretrace0..3,
// bustrace, dsram0..3, tsram0..3, stats0..3.
type FileSet struct {
	IMem      [NumCores]string
	MemIn     string
	MemOut    string
	RegOut    [NumCores]string
	CoreTrace [NumCores]string
	BusTrace  string
	DSRAM     [NumCores]string
	TSRAM     [NumCores]string
	Stats     [NumCores]string
}

// DefaultFiles is the filename table used when the simulator is invoked
// with no arguments.
func DefaultFiles() FileSet {
	fs := FileSet{
		MemIn:    "memin.txt",
		MemOut:   "memout.txt",
		BusTrace: "bustrace.txt",
	}
	for i := 0; i < NumCores; i++ {
		fs.IMem[i] = fmt.Sprintf("imem%d.txt", i)
		fs.RegOut[i] = fmt.Sprintf("regout%d.txt", i)
		fs.CoreTrace[i] = fmt.Sprintf("core%dtrace.txt", i)
		fs.DSRAM[i] = fmt.Sprintf("dsram%d.txt", i)
		fs.TSRAM[i] = fmt.Sprintf("tsram%d.txt", i)
		fs.Stats[i] = fmt.Sprintf("stats%d.txt", i)
	}
	return fs
}

// FilesFromArgs maps the 27 positional arguments onto a FileSet.
func FilesFromArgs(args []string) (FileSet, error) {
	if len(args) != NumFiles {
		return FileSet{}, fmt.Errorf("expected %d filenames, got %d", NumFiles, len(args))
	}
	var fs FileSet
	copy(fs.IMem[:], args[0:4])
	fs.MemIn = args[4]
	fs.MemOut = args[5]
	copy(fs.RegOut[:], args[6:10])
	copy(fs.CoreTrace[:], args[10:14])
	fs.BusTrace = args[14]
	copy(fs.DSRAM[:], args[15:19])
	copy(fs.TSRAM[:], args[19:23])
	copy(fs.Stats[:], args[23:27])
	return fs, nil
}

// Load builds a machine from the input files of fs and applies the
// SIM_MAX_CYCLES and SIM_DEBUG_BRANCH environment settings.
func Load(fs FileSet) (*Machine, error) {
	var imems [NumCores][]uint32
	for i := range imems {
		words, err := hexfile.Load(fs.IMem[i], isa.IMemSize)
		if err != nil {
			return nil, err
		}
		imems[i] = words
	}
	memImage, err := hexfile.Load(fs.MemIn, mem.Words)
	if err != nil {
		return nil, err
	}

	m := New(imems, memImage)
	if v, ok := os.LookupEnv("SIM_MAX_CYCLES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SIM_MAX_CYCLES: %w", err)
		}
		m.MaxCycles = n
	}
	if _, ok := os.LookupEnv("SIM_DEBUG_BRANCH"); ok {
		for _, c := range m.Cores {
			c.BranchTrace = os.Stderr
		}
	}
	return m, nil
}

// RunFiles performs a complete batch run: load inputs, simulate with
// traces attached, write every output file.
func RunFiles(fs FileSet) error {
	m, err := Load(fs)
	if err != nil {
		return err
	}

	var traceFiles []*os.File
	var traceBufs []*bufio.Writer
	openTrace := func(path string) (io.Writer, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		bw := bufio.NewWriter(f)
		traceFiles = append(traceFiles, f)
		traceBufs = append(traceBufs, bw)
		return bw, nil
	}
	closeTraces := func() error {
		var first error
		for _, bw := range traceBufs {
			if err := bw.Flush(); err != nil && first == nil {
				first = err
			}
		}
		for _, f := range traceFiles {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for i := range m.Cores {
		w, err := openTrace(fs.CoreTrace[i])
		if err != nil {
			closeTraces()
			return err
		}
		m.CoreTraces[i] = w
	}
	busTrace, err := openTrace(fs.BusTrace)
	if err != nil {
		closeTraces()
		return err
	}
	m.BusTrace = busTrace

	m.Run()

	if err := closeTraces(); err != nil {
		return fmt.Errorf("flush traces: %w", err)
	}
	return m.WriteOutputs(fs)
}

// WriteOutputs dumps the post-run architectural state: trimmed memory,
// register files, cache data and tag images, and statistics.
func (m *Machine) WriteOutputs(fs FileSet) error {
	if err := hexfile.SaveTrimmed(fs.MemOut, m.Mem); err != nil {
		return err
	}
	for i, c := range m.Cores {
		if err := hexfile.Save(fs.RegOut[i], c.Regs[2:]); err != nil {
			return err
		}
		if err := hexfile.Save(fs.DSRAM[i], c.Cache.Data[:]); err != nil {
			return err
		}
		tsram := make([]uint32, cache.Lines)
		for line := range tsram {
			tsram[line] = c.Cache.TSRAMWord(line)
		}
		if err := hexfile.Save(fs.TSRAM[i], tsram); err != nil {
			return err
		}
		if err := saveStats(fs.Stats[i], &c.Stats); err != nil {
			return err
		}
	}
	return nil
}

// WriteStats emits the eight key/value counter lines of a statsN.txt file.
func WriteStats(w io.Writer, s *core.Stats) error {
	_, err := fmt.Fprintf(w,
		"cycles %d\ninstructions %d\nread_hit %d\nwrite_hit %d\nread_miss %d\nwrite_miss %d\ndecode_stall %d\nmem_stall %d\n",
		s.Cycles, s.Instructions, s.ReadHit, s.WriteHit,
		s.ReadMiss, s.WriteMiss, s.DecodeStall, s.MemStall)
	return err
}

func saveStats(path string, s *core.Stats) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := WriteStats(f, s); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
