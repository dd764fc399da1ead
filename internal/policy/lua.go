package policy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/query"
)

// luaSelectFunc is the entry point a policy script must define:
//
//	function pick(servers, query) ... return index end
//
// servers is a 1-based array of tables with the fields name, address, order,
// weight, outstanding, queries and available. query has name, type, class,
// client and tags. Returning nil (or an out of range index) selects no
// backend.
const luaSelectFunc = "pick"

// Lua is a selection policy implemented by a Lua script. A script runs in a
// single interpreter, so Select is not safe for concurrent use and the
// policy reports itself as Exclusive.
type Lua struct {
	name   string
	L      *lua.LState
	logger *slog.Logger
}

// NewLua compiles and loads a policy script in a sandboxed interpreter.
func NewLua(name string, src io.Reader, logger *slog.Logger) (*Lua, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chunk, err := parse.Parse(src, name)
	if err != nil {
		return nil, fmt.Errorf("parse policy script %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile policy script %s: %w", name, err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSandboxedLibs(L)
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("load policy script %s: %w", name, err)
	}
	if L.GetGlobal(luaSelectFunc).Type() != lua.LTFunction {
		L.Close()
		return nil, errors.New("no pick() function found in policy script " + name)
	}
	return &Lua{name: name, L: L, logger: logger}, nil
}

// openSandboxedLibs opens only safe Lua libraries and removes base functions
// that can load code.
func openSandboxedLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (p *Lua) Name() string    { return "lua:" + p.name }
func (p *Lua) Exclusive() bool { return true }

// Close releases the interpreter.
func (p *Lua) Close() { p.L.Close() }

// Select calls the script's pick function. Script errors are logged and
// select no backend.
func (p *Lua) Select(servers []*backend.Backend, qc *query.Context) *backend.Backend {
	L := p.L
	list := L.CreateTable(len(servers), 0)
	for _, s := range servers {
		t := L.CreateTable(0, 7)
		t.RawSetString("name", lua.LString(s.Name))
		t.RawSetString("address", lua.LString(s.Addr.String()))
		t.RawSetString("order", lua.LNumber(s.Order))
		t.RawSetString("weight", lua.LNumber(s.Weight))
		t.RawSetString("outstanding", lua.LNumber(s.Outstanding()))
		t.RawSetString("queries", lua.LNumber(s.Snapshot().Queries))
		t.RawSetString("available", lua.LBool(s.Available()))
		list.Append(t)
	}

	q := L.CreateTable(0, 5)
	tags := L.CreateTable(0, 0)
	if qc != nil {
		q.RawSetString("name", lua.LString(qc.Name))
		q.RawSetString("type", lua.LNumber(qc.Type))
		q.RawSetString("class", lua.LNumber(qc.Class))
		q.RawSetString("client", lua.LString(qc.Client.Addr().String()))
		for k, v := range qc.Tags {
			tags.RawSetString(k, lua.LString(v))
		}
	}
	q.RawSetString("tags", tags)

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(luaSelectFunc),
		NRet:    1,
		Protect: true,
	}, list, q); err != nil {
		p.logger.Warn("lua policy failed", "policy", p.name, "err", err)
		return nil
	}
	ret := L.Get(-1)
	L.Pop(1)

	idx, ok := ret.(lua.LNumber)
	if !ok {
		return nil
	}
	i := int(idx)
	if i < 1 || i > len(servers) {
		return nil
	}
	return servers[i-1]
}
