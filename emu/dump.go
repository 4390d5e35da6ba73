package emu

import (
	"fmt"
	"io"
	"strings"

	"github.com/bradleyjkemp/memviz"
)

// Snapshot is a copy of the architected state of a core.
type Snapshot struct {
	Name         string
	Path         string
	Level        string
	Instructions uint64
	Pending      []string
	Regs         RegFile
}

// Snapshot copies the core state.
func (c *Core) Snapshot() *Snapshot {
	pending := c.pending.Kinds()
	names := make([]string, len(pending))
	for i, k := range pending {
		names[i] = k.String()
	}

	return &Snapshot{
		Name:         c.name,
		Path:         c.path,
		Level:        c.level.String(),
		Instructions: c.total.Load(),
		Pending:      names,
		Regs:         *c.regs,
	}
}

// DumpState writes the registers in a human readable layout.
func (c *Core) DumpState(w io.Writer) error {
	r := c.regs
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s) level=%s instructions=%d\n",
		c.name, c.path, c.level, c.total.Load())
	fmt.Fprintf(&b, "pc=%016X msr=%016X lr=%016X ctr=%016X\n", r.PC, r.MSR, r.LR, r.CTR)
	fmt.Fprintf(&b, "cr=%08X xer=%08X\n", r.CR, r.XER)

	for i := 0; i < 32; i++ {
		fmt.Fprintf(&b, "r%-2d=%016X", i, r.GPR[i])
		if i%4 == 3 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}

	fmt.Fprintf(&b, "srr0=%016X srr1=%016X esr=%016X dear=%016X\n", r.SRR0, r.SRR1, r.ESR, r.DEAR)
	fmt.Fprintf(&b, "dec=%d tb=%d tcr=%08X tsr=%08X\n", r.DEC, r.TB, r.TCR, r.TSR)

	if kinds := c.pending.Kinds(); len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = k.String()
		}
		fmt.Fprintf(&b, "pending: %s\n", strings.Join(names, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// DumpGraph writes a Graphviz rendering of the core state.
func (c *Core) DumpGraph(w io.Writer) {
	memviz.Map(w, c.Snapshot())
}
