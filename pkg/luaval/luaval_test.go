package luaval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"nil", NewNil(), "nil"},
		{"bool", NewBool(true), "true"},
		{"int", NewInt(-42), "-42"},
		{"float", NewFloat(1.5), "1.5"},
		{"string", NewString(`a"b`), `"a\"b"`},
		{"array", NewArray(NewInt(1), NewString("x")), `{1,"x"}`},
		{
			"table sorted keys",
			NewTable(map[string]Value{"tv": NewInt(96), "av": NewInt(384)}),
			`{["av"]=384,["tv"]=96}`,
		},
		{
			"nested",
			NewTable(map[string]Value{"a": NewArray(NewBool(false))}),
			`{["a"]={false}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Marshal(tt.v))
		})
	}
}

func TestUnmarshalScalars(t *testing.T) {
	v, err := Unmarshal("42")
	require.NoError(t, err)
	require.Equal(t, Int, v.Kind)
	require.Equal(t, int64(42), v.Int())

	v, err = Unmarshal("1.25")
	require.NoError(t, err)
	require.Equal(t, Float, v.Kind)
	require.Equal(t, 1.25, v.Float())

	v, err = Unmarshal(`"hello"`)
	require.NoError(t, err)
	require.Equal(t, "hello", v.String())

	v, err = Unmarshal("false")
	require.NoError(t, err)
	require.False(t, v.Truthy())
}

func TestUnmarshalSequence(t *testing.T) {
	// contiguous integer keys come back as an ordered sequence
	v, err := Unmarshal(`{[1]="a",[2]="b",[3]="c"}`)
	require.NoError(t, err)
	require.Equal(t, Array, v.Kind)
	require.Equal(t, 3, v.Len())
	require.Equal(t, "b", v.Array()[1].String())
}

func TestUnmarshalMapping(t *testing.T) {
	v, err := Unmarshal(`{dir="A/DCIM/100CANON",exp=42}`)
	require.NoError(t, err)
	require.Equal(t, Table, v.Kind)
	require.Equal(t, "A/DCIM/100CANON", v.Get("dir").String())
	require.Equal(t, int64(42), v.Get("exp").Int())
	require.Equal(t, Nil, v.Get("missing").Kind)
}

func TestUnmarshalZeroBasedSequence(t *testing.T) {
	// a run starting at zero is still a sequence
	v, err := Unmarshal(`{[0]="a",[1]="b",[2]="c"}`)
	require.NoError(t, err)
	require.Equal(t, Array, v.Kind)
	require.Equal(t, 3, v.Len())
	require.Equal(t, "a", v.Array()[0].String())
	require.Equal(t, "c", v.Array()[2].String())
}

func TestUnmarshalHoleIsMapping(t *testing.T) {
	// a hole in the integer run means this is not a sequence
	v, err := Unmarshal(`{[1]="a",[3]="c"}`)
	require.NoError(t, err)
	require.Equal(t, Table, v.Kind)
	require.Equal(t, "c", v.Get("3").String())
}

func TestUnmarshalRoundtrip(t *testing.T) {
	orig := NewTable(map[string]Value{
		"is_dir": NewBool(true),
		"size":   NewInt(12345),
		"name":   NewString("IMG_0001.JPG"),
		"parts":  NewArray(NewInt(1), NewInt(2)),
	})
	v, err := Unmarshal(Marshal(orig))
	require.NoError(t, err)
	require.True(t, v.Get("is_dir").Bool())
	require.Equal(t, int64(12345), v.Get("size").Int())
	require.Equal(t, 2, v.Get("parts").Len())
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal(`{`)
	require.Error(t, err)
}
