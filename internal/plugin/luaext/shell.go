package luaext

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// shellFuncs builds the shell module exposed to scripts. Every
// function here runs on the goroutine executing the surrounding hook
// call, with the state mutex already held; none of them may call back
// into the state.
func (s *Script) shellFuncs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"log":          s.luaLog,
		"config":       s.luaConfig,
		"inject_css":   s.luaInjectCSS,
		"remove_css":   s.luaRemoveCSS,
		"page_matches": s.luaPageMatches,
	}
}

// luaLog is shell.log(level, msg). Unknown levels log at info.
func (s *Script) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)

	switch level {
	case "debug":
		s.log.Debug(msg)
	case "warn":
		s.log.Warn(msg)
	case "error":
		s.log.Error(msg)
	default:
		s.log.Info(msg)
	}
	return 0
}

// luaConfig is shell.config(). Returns the merged settings table with
// the resolved enabled flag folded in.
func (s *Script) luaConfig(L *lua.LState) int {
	s.mu.Lock()
	cfg := s.lastCfg
	s.mu.Unlock()

	L.Push(s.configTable(L, cfg))
	return 1
}

// luaInjectCSS is shell.inject_css(key, selector, declarations). It
// installs the one-rule stylesheet "selector { declarations }" under
// the script's namespaced key, replacing any prior sheet with the same
// key. Inside a per-page hook it targets that page; elsewhere it
// targets every live matching page.
func (s *Script) luaInjectCSS(L *lua.LState) int {
	key := L.CheckString(1)
	selector := L.CheckString(2)
	declarations := L.CheckString(3)

	sheet := fmt.Sprintf("%s { %s }", selector, declarations)
	nskey := s.cssKey(key)

	s.mu.Lock()
	s.cssKeys[nskey] = true
	s.mu.Unlock()

	for _, rc := range s.cssTargets() {
		rc := rc
		rc.Do(func() {
			if err := rc.Page().InsertCSS(nskey, sheet); err != nil {
				s.log.Debug("inject css failed", "key", nskey, "error", err)
			}
		})
	}
	return 0
}

// luaRemoveCSS is shell.remove_css(key). Removing a key that was never
// injected is a no-op.
func (s *Script) luaRemoveCSS(L *lua.LState) int {
	nskey := s.cssKey(L.CheckString(1))

	s.mu.Lock()
	delete(s.cssKeys, nskey)
	s.mu.Unlock()

	for _, rc := range s.cssTargets() {
		rc := rc
		rc.Do(func() {
			if err := rc.Page().RemoveCSS(nskey); err != nil {
				s.log.Debug("remove css failed", "key", nskey, "error", err)
			}
		})
	}
	return 0
}

// luaPageMatches is shell.page_matches(url).
func (s *Script) luaPageMatches(L *lua.LState) int {
	url := L.CheckString(1)
	L.Push(lua.LBool(s.manifest.Matches(url)))
	return 1
}
