// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// DefaultCallStackSize bounds script recursion.
const DefaultCallStackSize = 256

// sandboxLibraries are the only standard libraries a module sees. os, io,
// debug and package are never opened.
var sandboxLibraries = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedGlobals load code from disk or from strings.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load"}

// sandbox builds the interpreter state each module runs in.
type sandbox struct {
	callStackSize int
}

func (s sandbox) newState(ctx context.Context) (*lua.LState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: s.callStackSize,
	})
	for _, lib := range sandboxLibraries {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		if err := L.PCall(1, 0, nil); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library")
		}
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L, nil
}
