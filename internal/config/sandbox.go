package config

import (
	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals are removed from every config VM.
var blockedGlobals = []string{
	// system access
	"os", "io",
	// code loading
	"require", "module", "package", "dofile", "loadfile", "load", "loadstring",
	// sandbox escapes
	"debug", "getmetatable", "setmetatable", "rawget", "rawset", "rawequal",
	"getfenv", "setfenv", "collectgarbage", "newproxy",
}

// newSandboxedVM creates a Lua VM with only string, table, math and the safe
// base functions available.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
