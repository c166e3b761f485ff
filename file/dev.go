package file

import (
	"bytes"
	"fmt"

	"github.com/google/pprof/profile"

	"riscvkern/accnt"
	"riscvkern/bcache"
	"riscvkern/defs"
	"riscvkern/stat"
	"riscvkern/stats"
	"riscvkern/vm"
	"riscvkern/walog"
)

// DevTable_t is the system-wide table of device backends, indexed by
// major number.
type DevTable_t struct {
	console Fdops_i
	prof    *profDev
}

// MkDevTable wires up the fixed set of devices this kernel supports.
func MkDevTable(acct func() []*accnt.Accnt_t) *DevTable_t {
	return &DevTable_t{
		console: &consoleDev{},
		prof:    &profDev{acct: acct},
	}
}

// Open returns the Fdops_i for major/minor, or ENXIO if unsupported.
func (dt *DevTable_t) Open(major, minor int) (Fdops_i, defs.Err_t) {
	switch major {
	case defs.D_CONSOLE:
		return dt.console, 0
	case defs.D_DEVNULL:
		return &devnullDev{}, 0
	case defs.D_STAT:
		return &statDev{}, 0
	case defs.D_PROF:
		return &profDev{acct: dt.prof.acct}, 0
	default:
		return nil, -defs.ENXIO
	}
}

type consoleDev struct{}

func (c *consoleDev) Read(dst vm.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (c *consoleDev) Write(src vm.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	fmt.Printf("%s", buf[:n])
	return n, 0
}
func (c *consoleDev) Fstat(st *stat.Stat_t) defs.Err_t { st.Wmode(uint(defs.I_DEV)); return 0 }
func (c *consoleDev) Close() defs.Err_t                { return 0 }
func (c *consoleDev) Reopen() defs.Err_t               { return 0 }
func (c *consoleDev) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

type devnullDev struct{}

func (d *devnullDev) Read(dst vm.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (d *devnullDev) Write(src vm.Userio_i) (int, defs.Err_t) { return src.Remain(), 0 }
func (d *devnullDev) Fstat(st *stat.Stat_t) defs.Err_t        { st.Wmode(uint(defs.I_DEV)); return 0 }
func (d *devnullDev) Close() defs.Err_t                       { return 0 }
func (d *devnullDev) Reopen() defs.Err_t                      { return 0 }
func (d *devnullDev) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

// statDev serves a text dump of block-cache/log statistics, the
// stats.Stats-gated counters SPEC_FULL.md's ambient stack calls for.
type statDev struct{}

func (s *statDev) Read(dst vm.Userio_i) (int, defs.Err_t) {
	txt := "block cache:" + stats.Stats2String(bcache.CacheStats) +
		"write-ahead log:" + stats.Stats2String(walog.LogStats)
	n, err := dst.Uiowrite([]byte(txt))
	return n, err
}
func (s *statDev) Write(src vm.Userio_i) (int, defs.Err_t)       { return 0, -defs.EPERM }
func (s *statDev) Fstat(st *stat.Stat_t) defs.Err_t              { st.Wmode(uint(defs.I_DEV)); return 0 }
func (s *statDev) Close() defs.Err_t                             { return 0 }
func (s *statDev) Reopen() defs.Err_t                            { return 0 }
func (s *statDev) Lseek(off, whence int) (int, defs.Err_t)       { return 0, -defs.ESPIPE }

// profDev serves /dev/prof: a pprof-format CPU profile built from
// every live process's accnt.Accnt_t, read once per open (the whole
// profile is generated and buffered on the first Read).
type profDev struct {
	acct    func() []*accnt.Accnt_t
	buf     []byte
	didRead bool
}

func (p *profDev) Read(dst vm.Userio_i) (int, defs.Err_t) {
	if !p.didRead {
		p.buf = p.render()
		p.didRead = true
	}
	n, err := dst.Uiowrite(p.buf)
	p.buf = p.buf[n:]
	return n, err
}

func (p *profDev) render() []byte {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user_ns", Unit: "nanoseconds"},
			{Type: "sys_ns", Unit: "nanoseconds"},
		},
	}
	for i, a := range p.acct() {
		u, s := a.Snapshot()
		fn := &profile.Function{ID: uint64(i + 1), Name: fmt.Sprintf("proc%d", i)}
		loc := &profile.Location{ID: uint64(i + 1), Line: []profile.Line{{Function: fn}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{u, s},
		})
	}
	var b bytes.Buffer
	prof.Write(&b)
	return b.Bytes()
}

func (p *profDev) Write(src vm.Userio_i) (int, defs.Err_t)       { return 0, -defs.EPERM }
func (p *profDev) Fstat(st *stat.Stat_t) defs.Err_t              { st.Wmode(uint(defs.I_DEV)); return 0 }
func (p *profDev) Close() defs.Err_t                             { return 0 }
func (p *profDev) Reopen() defs.Err_t                            { return 0 }
func (p *profDev) Lseek(off, whence int) (int, defs.Err_t)       { return 0, -defs.ESPIPE }
