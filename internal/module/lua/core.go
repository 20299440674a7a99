// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/modhost/pkg/plugin"
)

// Value is a Lua value registered in the Engine Core by a script.
// It is only meaningful while the module that registered it is open.
type Value struct {
	Module string
	LValue lua.LValue
	state  *lua.LState
}

// coreTable exposes core to the script. Called with mu held.
func (i *image) coreTable(core plugin.Core) *lua.LTable {
	t := i.L.NewTable()
	i.L.SetFuncs(t, map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			v, err := core.Subsystem(L.CheckString(2))
			if err != nil {
				return pushError(L, err)
			}
			L.Push(i.toLua(v))
			return 1
		},
		"register": func(L *lua.LState) int {
			id := L.CheckString(2)
			var instance any
			if v := L.CheckAny(3); v != lua.LNil {
				instance = &Value{Module: i.path, LValue: v, state: i.L}
			}
			if err := core.RegisterSubsystem(id, instance); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},
		"unregister": func(L *lua.LState) int {
			if err := core.UnregisterSubsystem(L.CheckString(2)); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},
		"has": func(L *lua.LState) int {
			_, err := core.Subsystem(L.CheckString(2))
			L.Push(lua.LBool(err == nil))
			return 1
		},
	})
	return t
}

// toLua returns values registered from this state as-is; anything else is
// wrapped in userdata.
func (i *image) toLua(v any) lua.LValue {
	if val, ok := v.(*Value); ok && val.state == i.L {
		return val.LValue
	}
	ud := i.L.NewUserData()
	ud.Value = v
	return ud
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
