package compose

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	tests := []struct {
		name     string
		old      string
		new      string
		expected string
	}{
		{name: "new wins", old: "A", new: "B", expected: "B"},
		{name: "unset keeps old", old: "A", new: "", expected: "A"},
		{name: "both unset", old: "", new: "", expected: ""},
		{name: "old unset", old: "", new: "B", expected: "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Combine(tt.old, tt.new))
		})
	}
}

func TestCombine_Pointer(t *testing.T) {
	one, two := 1, 2

	assert.Same(t, &two, Combine(&one, &two))
	assert.Same(t, &one, Combine(&one, nil))
	assert.Nil(t, Combine[*int](nil, nil))
}

func TestCombineSlice(t *testing.T) {
	old := []string{"--a", "1"}
	merged := CombineSlice(old, []string{"--b", "2"})

	if diff := cmp.Diff([]string{"--a", "1", "--b", "2"}, merged); diff != "" {
		t.Errorf("CombineSlice mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"--a", "1"}, CombineSlice(old, nil))
	assert.Nil(t, CombineSlice[string](nil, nil))

	// The result must not alias the inputs.
	merged[0] = "changed"
	assert.Equal(t, "--a", old[0])
}

func TestOverride(t *testing.T) {
	assert.Equal(t, []string{"./b"}, Override([]string{"./a"}, []string{"./b"}))
	assert.Equal(t, []string{"./a"}, Override([]string{"./a"}, nil))
	assert.Empty(t, Override[string](nil, nil))
}

func TestCombineMap(t *testing.T) {
	old := map[string]string{"x": "1", "shared": "old"}
	merged := CombineMap(old, map[string]string{"y": "2", "shared": "new"})

	want := map[string]string{"x": "1", "y": "2", "shared": "new"}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("CombineMap mismatch (-want +got):\n%s", diff)
	}
	assert.NotContains(t, old, "y")
	assert.Equal(t, "old", old["shared"])
	assert.Nil(t, CombineMap[string, string](nil, nil))
}
