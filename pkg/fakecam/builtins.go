package fakecam

import (
	"github.com/openchdk/gochdk/pkg/chdk"
	lua "github.com/yuin/gopher-lua"
)

// register installs the stubbed CHDK builtins into a fresh script
// state. The camera mutex is already held while a script runs.
func (c *Camera) register(ls *lua.LState) {
	fns := map[string]lua.LGFunction{
		"get_mode": func(L *lua.LState) int {
			L.Push(lua.LBool(c.mode == 1))
			L.Push(lua.LBool(false))
			L.Push(lua.LNumber(c.mode))
			return 3
		},
		"switch_mode_usb": func(L *lua.LState) int {
			if !c.StickyMode {
				c.mode = int(L.CheckNumber(1))
			}
			return 0
		},
		"sleep": func(L *lua.LState) int {
			c.SleepCalls++
			return 0
		},
		"reboot": func(L *lua.LState) int {
			c.mode = 0
			return 0
		},
		"shoot": func(L *lua.LState) int {
			c.shoot()
			return 0
		},
		"get_image_dir": func(L *lua.LState) int {
			L.Push(lua.LString("A/DCIM/100CANON"))
			return 1
		},
		"get_exp_count": func(L *lua.LState) int {
			L.Push(lua.LNumber(c.expCount))
			return 1
		},
		"init_usb_capture": func(L *lua.LState) int {
			c.captureFormat = int(L.CheckNumber(1))
			if c.captureFormat == 0 {
				c.pending = nil
			}
			L.Push(lua.LBool(true))
			return 1
		},
		"sv96_market_to_real": func(L *lua.LState) int {
			L.Push(L.CheckNumber(1))
			return 1
		},
		"write_usb_msg": func(L *lua.LState) int {
			c.pushValue(chdk.MsgUser, L.Get(1))
			L.Push(lua.LBool(true))
			return 1
		},
		"read_usb_msg": func(L *lua.LState) int {
			if len(c.inbox) == 0 {
				L.Push(lua.LNil)
				return 1
			}
			s := c.inbox[0]
			c.inbox = c.inbox[1:]
			L.Push(lua.LString(s))
			return 1
		},
	}
	// exposure setters are accepted and ignored
	for _, name := range []string{"set_focus", "set_av96", "set_tv96", "set_sv96", "set_iso_mode", "set_nd_filter", "set_raw"} {
		fns[name] = func(L *lua.LState) int { return 0 }
	}
	for name, fn := range fns {
		ls.SetGlobal(name, ls.NewFunction(fn))
	}

	// the storage API replaces the standard os table
	osTable := ls.NewTable()
	ls.SetField(osTable, "stat", ls.NewFunction(c.luaStat))
	ls.SetField(osTable, "listdir", ls.NewFunction(c.luaListdir))
	ls.SetField(osTable, "remove", ls.NewFunction(c.luaRemove))
	ls.SetField(osTable, "mkdir", ls.NewFunction(c.luaMkdir))
	ls.SetField(osTable, "utime", ls.NewFunction(c.luaUtime))
	ls.SetGlobal("os", osTable)
}

func (c *Camera) luaStat(L *lua.LState) int {
	st, ok := c.vfs.stat(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	t := L.NewTable()
	L.SetField(t, "is_dir", lua.LBool(st.isDir))
	L.SetField(t, "size", lua.LNumber(st.size))
	L.SetField(t, "mtime", lua.LNumber(st.mtime))
	L.Push(t)
	return 1
}

func (c *Camera) luaListdir(L *lua.LState) int {
	names, ok := c.vfs.list(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	t := L.NewTable()
	for _, name := range names {
		t.Append(lua.LString(name))
	}
	L.Push(t)
	return 1
}

func (c *Camera) luaRemove(L *lua.LState) int {
	if err := c.vfs.remove(L.CheckString(1)); err != nil {
		L.Push(lua.LBool(false))
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(true))
	return 1
}

func (c *Camera) luaMkdir(L *lua.LState) int {
	if err := c.vfs.mkdir(L.CheckString(1)); err != nil {
		L.Push(lua.LBool(false))
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(true))
	return 1
}

func (c *Camera) luaUtime(L *lua.LState) int {
	c.vfs.setMTime(L.CheckString(1), int64(L.CheckNumber(2)))
	L.Push(lua.LBool(true))
	return 1
}
