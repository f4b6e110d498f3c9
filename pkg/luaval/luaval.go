// Package luaval converts between Go values and the serialized Lua
// literals that CHDK scripts exchange with the host. A structured value
// crosses the wire as Lua source for a single table constructor.
package luaval

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

type Kind byte

const (
	Nil Kind = iota
	Bool
	Int
	Float
	String
	Array // contiguous 1..n integer keys
	Table
)

// Value is the tagged variant for anything a remote script can return.
type Value struct {
	Kind Kind

	b   bool
	i   int64
	f   float64
	s   string
	arr []Value
	tbl map[string]Value
}

func NewNil() Value            { return Value{Kind: Nil} }
func NewBool(v bool) Value     { return Value{Kind: Bool, b: v} }
func NewInt(v int64) Value     { return Value{Kind: Int, i: v} }
func NewFloat(v float64) Value { return Value{Kind: Float, f: v} }
func NewString(v string) Value { return Value{Kind: String, s: v} }

func NewArray(items ...Value) Value {
	return Value{Kind: Array, arr: items}
}

func NewTable(m map[string]Value) Value {
	return Value{Kind: Table, tbl: m}
}

func (v Value) Bool() bool     { return v.b }
func (v Value) Int() int64     { return v.i }
func (v Value) String() string { return v.s }
func (v Value) Array() []Value { return v.arr }

func (v Value) Float() float64 {
	if v.Kind == Int {
		return float64(v.i)
	}
	return v.f
}

// Get looks up a table field, returning a Nil value for missing keys.
func (v Value) Get(key string) Value {
	return v.tbl[key]
}

func (v Value) Len() int {
	switch v.Kind {
	case Array:
		return len(v.arr)
	case Table:
		return len(v.tbl)
	}
	return 0
}

func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.tbl))
	for k := range v.tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Truthy follows Lua semantics: only nil and false are false.
func (v Value) Truthy() bool {
	switch v.Kind {
	case Nil:
		return false
	case Bool:
		return v.b
	}
	return true
}

// Marshal renders a Value as a Lua literal. Table keys are emitted in
// sorted order so output is deterministic.
func Marshal(v Value) string {
	var sb strings.Builder
	marshal(&sb, v)
	return sb.String()
}

func marshal(sb *strings.Builder, v Value) {
	switch v.Kind {
	case Nil:
		sb.WriteString("nil")
	case Bool:
		sb.WriteString(strconv.FormatBool(v.b))
	case Int:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case Float:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case String:
		sb.WriteString(quote(v.s))
	case Array:
		sb.WriteByte('{')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			marshal(sb, item)
		}
		sb.WriteByte('}')
	case Table:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('[')
			sb.WriteString(quote(k))
			sb.WriteString("]=")
			marshal(sb, v.tbl[k])
		}
		sb.WriteByte('}')
	}
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case 0:
			sb.WriteString(`\0`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

var ErrDepth = errors.New("luaval: value nested too deep")

const maxDepth = 32

// Unmarshal decodes one serialized value by evaluating it in a bare
// Lua state. Nothing beyond the literal itself is in scope, so the
// evaluated source cannot reach the host.
func Unmarshal(src string) (Value, error) {
	ls := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer ls.Close()

	if err := ls.DoString("return " + src); err != nil {
		return Value{}, fmt.Errorf("luaval: %w", err)
	}
	lv := ls.Get(-1)
	return fromLua(lv, 0)
}

// FromLua converts a value held by a gopher-lua state.
func FromLua(lv lua.LValue) (Value, error) {
	return fromLua(lv, 0)
}

func fromLua(lv lua.LValue, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, ErrDepth
	}
	switch v := lv.(type) {
	case *lua.LNilType:
		return NewNil(), nil
	case lua.LBool:
		return NewBool(bool(v)), nil
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return NewInt(int64(f)), nil
		}
		return NewFloat(f), nil
	case lua.LString:
		return NewString(string(v)), nil
	case *lua.LTable:
		return fromLuaTable(v, depth)
	}
	return Value{}, fmt.Errorf("luaval: unsupported type %s", lv.Type())
}

// fromLuaTable decides between Array and Table the way the original
// wire format is ambiguous: keys forming a contiguous integer run from
// zero or one are presented as an ordered sequence.
func fromLuaTable(t *lua.LTable, depth int) (Value, error) {
	ints := map[int64]Value{}
	strs := map[string]Value{}
	var err error

	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		var gv Value
		if gv, err = fromLua(v, depth+1); err != nil {
			return
		}
		switch key := k.(type) {
		case lua.LNumber:
			f := float64(key)
			if f == float64(int64(f)) {
				ints[int64(f)] = gv
			} else {
				strs[strconv.FormatFloat(f, 'g', -1, 64)] = gv
			}
		case lua.LString:
			strs[string(key)] = gv
		case lua.LBool:
			strs[strconv.FormatBool(bool(key))] = gv
		default:
			err = fmt.Errorf("luaval: unsupported key type %s", k.Type())
		}
	})
	if err != nil {
		return Value{}, err
	}

	if len(strs) == 0 {
		start := int64(1)
		if _, ok := ints[0]; ok {
			start = 0
		}
		arr := make([]Value, 0, len(ints))
		for i := start; ; i++ {
			v, ok := ints[i]
			if !ok {
				break
			}
			arr = append(arr, v)
		}
		if len(arr) == len(ints) {
			return NewArray(arr...), nil
		}
	}

	tbl := make(map[string]Value, len(ints)+len(strs))
	for k, v := range strs {
		tbl[k] = v
	}
	for k, v := range ints {
		tbl[strconv.FormatInt(k, 10)] = v
	}
	return NewTable(tbl), nil
}
