// Package luaext loads user plugins written in Lua and adapts them to
// the plugin contract.
//
// A Lua plugin is a directory containing a manifest.json and an
// init.lua. The manifest declares identity, the page globs the plugin
// applies to, and its configuration defaults:
//
//	{
//	  "name": "hide-comments",
//	  "version": "1.0.0",
//	  "description": "Collapses the comment panel",
//	  "pages": ["https://music.example.com/*"],
//	  "config": {"selector": "#comments"},
//	  "enabled_default": true
//	}
//
// init.lua runs once at load time and defines hook functions, all
// optional. Absent hooks are no-ops:
//
//	function on_ready() end
//	function on_context(url) end
//	function on_content_loaded(url) end
//	function on_config_changed(config) end
//	function on_disabled() end
//
// Scripts talk back through the shell module:
//
//	shell.log(level, msg)                  -- structured log line
//	shell.config()                         -- current config table
//	shell.inject_css(key, selector, css)   -- install a one-rule sheet
//	shell.remove_css(key)                  -- drop an installed sheet
//	shell.page_matches(url)                -- test the manifest globs
//
// Each script runs in its own sandboxed Lua state: only the base,
// table, string, and math libraries are open, the code loaders
// (dofile, loadfile, load) are removed, and every hook call is bounded
// by an execution deadline. Hook calls are serialized; gopher-lua
// states are not goroutine-safe.
package luaext
