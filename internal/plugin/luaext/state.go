package luaext

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds a single script or hook execution. The
// deadline rides gopher-lua's context support, which aborts the VM
// between instructions.
const DefaultCallTimeout = 5 * time.Second

// luaState wraps a sandboxed gopher-lua state. LStates are not
// goroutine-safe; every operation takes the mutex, so calls from the
// host dispatch path and the shell surface serialize here.
type luaState struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	closed  bool
}

// newLuaState creates a state with only the safe standard libraries
// open and the code loaders removed.
func newLuaState(timeout time.Duration) *luaState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// The base library ships loaders that would let a script pull in
	// arbitrary code. io, os, debug, and package are never opened.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("module %q is not available", L.CheckString(1))
		return 0
	}))

	return &luaState{L: L, timeout: timeout}
}

// registerModule installs a table of Go functions as a global module.
func (s *luaState) registerModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	s.L.SetGlobal(name, mod)
}

// doFile executes a Lua file under the call deadline.
func (s *luaState) doFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScriptClosed
	}
	return s.bounded(func() error {
		return s.L.DoFile(path)
	})
}

// call invokes a global function by name. An absent global is a no-op;
// a non-function global is an error. Arguments are built once the
// state lock is held, return values are discarded.
func (s *luaState) call(name string, buildArgs func(L *lua.LState) []lua.LValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScriptClosed
	}

	fn := s.L.GetGlobal(name)
	if fn == lua.LNil {
		return nil
	}
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("%q is not a function (got %s)", name, fn.Type())
	}

	var args []lua.LValue
	if buildArgs != nil {
		args = buildArgs(s.L)
	}

	top := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	err := s.bounded(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	})
	if err != nil {
		return err
	}

	if n := s.L.GetTop() - top; n > 0 {
		s.L.Pop(n)
	}
	return nil
}

// bounded runs fn with the execution deadline applied and panics
// recovered. Must be called with the mutex held.
func (s *luaState) bounded(fn func() error) (err error) {
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// close releases the state. Idempotent.
func (s *luaState) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}
