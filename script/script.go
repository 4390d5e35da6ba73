// Package script drives a system from Lua. Scripts see these tables:
//
//	cpu  step, run, pc, setpc, gpr, setgpr, exec, decode, dump, select, name
//	bp   add, del, list, enable, disable
//	sim  live, cores, instructions, halt
//	mem  read, write
//
// and the function asm, which encodes one line of assembler.
//
// Addresses and register values may be given as numbers or as strings such
// as "0x10000000" when they exceed the exact range of a Lua number.
package script

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/ppcsim/emu"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/system"
)

// Engine is a Lua state bound to one system.
type Engine struct {
	state *lua.LState
	sys   *system.System
	core  *emu.E500
	out   io.Writer
	log   logrus.FieldLogger
	ctx   context.Context
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutput redirects print and cpu.dump output.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.out = w
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithContext bounds cpu.run.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) {
		e.ctx = ctx
	}
}

// New creates an engine with the first core of sys selected.
func New(sys *system.System, opts ...Option) *Engine {
	e := &Engine{
		state: lua.NewState(),
		sys:   sys,
		out:   os.Stdout,
		log:   logrus.StandardLogger(),
		ctx:   context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cores := sys.Cores(); len(cores) > 0 {
		e.core = cores[0]
	}

	L := e.state
	L.SetGlobal("print", L.NewFunction(e.print))
	L.SetGlobal("cpu", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"step":   e.cpuStep,
		"run":    e.cpuRun,
		"pc":     e.cpuPC,
		"setpc":  e.cpuSetPC,
		"gpr":    e.cpuGPR,
		"setgpr": e.cpuSetGPR,
		"exec":   e.cpuExec,
		"decode": e.cpuDecode,
		"dump":   e.cpuDump,
		"select": e.cpuSelect,
		"name":   e.cpuName,
	}))
	L.SetGlobal("bp", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"add":     e.bpAdd,
		"del":     e.bpDel,
		"list":    e.bpList,
		"enable":  e.bpEnable,
		"disable": e.bpDisable,
	}))
	L.SetGlobal("sim", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"live":         e.simLive,
		"cores":        e.simCores,
		"instructions": e.simInstructions,
		"halt":         e.simHalt,
	}))
	L.SetGlobal("mem", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read":  e.memRead,
		"write": e.memWrite,
	}))
	L.SetGlobal("asm", L.NewFunction(assemble))

	return e
}

// RunString executes a chunk of Lua source.
func (e *Engine) RunString(src string) error {
	if err := e.state.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// RunFile executes a Lua file.
func (e *Engine) RunFile(path string) error {
	e.log.WithField("path", path).Debug("running script")
	if err := e.state.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// Core returns the selected core.
func (e *Engine) Core() *emu.E500 { return e.core }

// Close releases the Lua state.
func (e *Engine) Close() {
	e.state.Close()
}

func (e *Engine) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	fmt.Fprintln(e.out, strings.Join(parts, "\t"))
	return 0
}

// checkU64 reads argument n as a number or a numeric string.
func checkU64(L *lua.LState, n int) uint64 {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		return uint64(int64(v))
	case lua.LString:
		u, err := strconv.ParseUint(string(v), 0, 64)
		if err != nil {
			L.ArgError(n, fmt.Sprintf("bad number %q", string(v)))
		}
		return u
	default:
		L.TypeError(n, lua.LTNumber)
	}
	return 0
}

func checkGPR(L *lua.LState, n int) uint8 {
	r := L.CheckInt(n)
	if r < 0 || r > 31 {
		L.ArgError(n, fmt.Sprintf("register r%d out of range", r))
	}
	return uint8(r)
}

func (e *Engine) selected(L *lua.LState) *emu.E500 {
	if e.core == nil {
		L.RaiseError("no core selected")
	}
	return e.core
}

func pushResult(L *lua.LState, r emu.StepResult) int {
	L.Push(lua.LString(r.Status.String()))
	L.Push(lua.LNumber(r.PC))
	return 2
}

func (e *Engine) cpuStep(L *lua.LState) int {
	c := e.selected(L)
	c.Start()
	return pushResult(L, c.Step())
}

func (e *Engine) cpuRun(L *lua.LState) int {
	c := e.selected(L)
	n := uint64(L.OptInt(1, 0))
	c.Start()
	r := c.Run(e.ctx, n)
	if r.Status == emu.StatusLimit {
		c.Stop()
	}
	return pushResult(L, r)
}

func (e *Engine) cpuPC(L *lua.LState) int {
	L.Push(lua.LNumber(e.selected(L).PC()))
	return 1
}

func (e *Engine) cpuSetPC(L *lua.LState) int {
	e.selected(L).SetPC(checkU64(L, 1))
	return 0
}

func (e *Engine) cpuGPR(L *lua.LState) int {
	L.Push(lua.LNumber(e.selected(L).RegFile().ReadReg(checkGPR(L, 1))))
	return 1
}

func (e *Engine) cpuSetGPR(L *lua.LState) int {
	e.selected(L).RegFile().WriteReg(checkGPR(L, 1), checkU64(L, 2))
	return 0
}

func (e *Engine) cpuExec(L *lua.LState) int {
	r, err := e.selected(L).Exec(L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
	}
	return pushResult(L, r)
}

// cpuDecode returns {op=, mnemonic=, text=, operands={...}} or nil and an
// error message.
func (e *Engine) cpuDecode(L *lua.LState) int {
	word := uint32(checkU64(L, 1))
	inst, err := e.selected(L).Decoder().Decode(word)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(instructionTable(L, inst))
	return 1
}

func instructionTable(L *lua.LState, inst *insts.Instruction) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("op", lua.LString(inst.Op.String()))
	t.RawSetString("mnemonic", lua.LString(inst.Mnemonic()))
	t.RawSetString("text", lua.LString(inst.String()))
	t.RawSetString("privileged", lua.LBool(inst.Privileged()))

	operands := L.NewTable()
	for _, v := range inst.Operands() {
		operands.Append(lua.LNumber(v))
	}
	t.RawSetString("operands", operands)
	return t
}

func (e *Engine) cpuDump(L *lua.LState) int {
	var buf bytes.Buffer
	if err := e.selected(L).DumpState(&buf); err != nil {
		L.RaiseError("%v", err)
	}
	if L.OptBool(1, false) {
		L.Push(lua.LString(buf.String()))
		return 1
	}
	_, _ = e.out.Write(buf.Bytes())
	return 0
}

func (e *Engine) cpuSelect(L *lua.LState) int {
	name := L.CheckString(1)
	c, ok := e.sys.Core(name)
	if !ok {
		L.RaiseError("no core named %q", name)
	}
	e.core = c
	return 0
}

func (e *Engine) cpuName(L *lua.LState) int {
	L.Push(lua.LString(e.selected(L).Name()))
	return 1
}

func (e *Engine) bpAdd(L *lua.LState) int {
	b := e.sys.Breakpoints().Add(checkU64(L, 1))
	L.Push(lua.LNumber(b.Number))
	return 1
}

// bpDel deletes by address, or by number when given "#n".
func (e *Engine) bpDel(L *lua.LState) int {
	if s, ok := L.Get(1).(lua.LString); ok && strings.HasPrefix(string(s), "#") {
		n, err := strconv.Atoi(string(s[1:]))
		if err != nil {
			L.ArgError(1, fmt.Sprintf("bad breakpoint number %q", string(s)))
		}
		L.Push(lua.LBool(e.sys.Breakpoints().DeleteByNumber(n) > 0))
		return 1
	}
	L.Push(lua.LBool(e.sys.Breakpoints().DeleteByAddress(checkU64(L, 1))))
	return 1
}

func (e *Engine) bpList(L *lua.LState) int {
	list := L.NewTable()
	for _, b := range e.sys.Breakpoints().List() {
		t := L.NewTable()
		t.RawSetString("number", lua.LNumber(b.Number))
		t.RawSetString("addr", lua.LNumber(b.Addr))
		t.RawSetString("hits", lua.LNumber(b.Hits))
		list.Append(t)
	}
	L.Push(list)
	return 1
}

func (e *Engine) bpEnable(L *lua.LState) int {
	e.sys.Breakpoints().Enable()
	return 0
}

func (e *Engine) bpDisable(L *lua.LState) int {
	e.sys.Breakpoints().Disable()
	return 0
}

func (e *Engine) simLive(L *lua.LState) int {
	L.Push(lua.LNumber(e.sys.Registry().Live()))
	return 1
}

func (e *Engine) simCores(L *lua.LState) int {
	names := L.NewTable()
	for _, c := range e.sys.Cores() {
		names.Append(lua.LString(c.Name()))
	}
	L.Push(names)
	return 1
}

func (e *Engine) simInstructions(L *lua.LState) int {
	L.Push(lua.LNumber(e.sys.Instructions()))
	return 1
}

func (e *Engine) simHalt(L *lua.LState) int {
	e.sys.Halt()
	return 0
}

func checkSize(L *lua.LState, n int) int {
	size := L.OptInt(n, 4)
	switch size {
	case 1, 2, 4, 8:
	default:
		L.ArgError(n, fmt.Sprintf("size %d is not 1, 2, 4 or 8", size))
	}
	return size
}

// memRead reads physical memory: mem.read(addr [, size]).
func (e *Engine) memRead(L *lua.LState) int {
	addr := checkU64(L, 1)
	m := e.sys.Memory()

	var v uint64
	switch checkSize(L, 2) {
	case 1:
		v = uint64(m.Read8(addr))
	case 2:
		v = uint64(m.Read16(addr))
	case 4:
		v = uint64(m.Read32(addr))
	case 8:
		v = m.Read64(addr)
	}
	L.Push(lua.LNumber(v))
	return 1
}

// memWrite writes physical memory: mem.write(addr, value [, size]).
func (e *Engine) memWrite(L *lua.LState) int {
	addr := checkU64(L, 1)
	v := checkU64(L, 2)
	m := e.sys.Memory()

	switch checkSize(L, 3) {
	case 1:
		m.Write8(addr, uint8(v))
	case 2:
		m.Write16(addr, uint16(v))
	case 4:
		m.Write32(addr, uint32(v))
	case 8:
		m.Write64(addr, v)
	}
	return 0
}

func assemble(L *lua.LState) int {
	word, err := insts.Assemble(L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(lua.LNumber(word))
	return 1
}
