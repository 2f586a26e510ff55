package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := Object{
		"a":  Int(1),
		"A":  Int(2),
		"aa": Int(3),
		"aA": Int(4),
		"Aa": Int(5),
		"AA": Int(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{
		"table": Int(12),
		"notes": String("no onions"),
		"rush":  Bool(true),
		"mods":  Array{String("extra cheese"), Null{}},
		"guest": Object{"name": String("Ana")},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"guest":{"name":"Ana"},"mods":["extra cheese",null],"notes":"no onions","rush":true,"table":12}`, string(data))

	var decoded Object
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, obj, decoded)
}

func TestObjectUnmarshalRejectsFloats(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"price": 9.5}`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestObjectCloneIsDeep(t *testing.T) {
	orig := Object{"inner": Object{"n": Int(1)}, "list": Array{Int(1)}}
	clone := orig.Clone()

	clone["inner"].(Object)["n"] = Int(2)
	clone["list"].(Array)[0] = Int(2)

	assert.Equal(t, Int(1), orig["inner"].(Object)["n"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0])
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    Value
		wantErr bool
	}{
		{"string", "x", String("x"), false},
		{"int", 3, Int(3), false},
		{"bool", false, Bool(false), false},
		{"json number", json.Number("7"), Int(7), false},
		{"nested", map[string]any{"a": []any{1, "b"}}, Object{"a": Array{Int(1), String("b")}}, false},
		{"float", 1.5, nil, true},
		{"json float", json.Number("1.5"), nil, true},
		{"nil", nil, nil, true},
		{"unsupported", struct{}{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
