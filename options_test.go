package nbtls

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionsMergeOverridesOnly(t *testing.T) {
	base := Options{"a": 1, "b": "x"}
	merged := base.Merge(Options{"b": "y", "c": true})

	require.Equal(t, 1, merged["a"])
	require.Equal(t, "y", merged["b"])
	require.Equal(t, true, merged["c"])
	require.Equal(t, "x", base["b"], "Merge must not mutate the receiver")
}

func TestOptionsCheckKeysRejectsUnrecognized(t *testing.T) {
	o := Options{"known": 1, "typo": 2}
	err := o.CheckKeys(map[string]struct{}{"known": {}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownOption))
}

func TestOptionsAccessorsFallBackToDefault(t *testing.T) {
	o := Options{"s": "v", "n": 3, "b": true}
	require.Equal(t, "v", o.String("s", "def"))
	require.Equal(t, "def", o.String("missing", "def"))
	require.Equal(t, 3, o.Int("n", 0))
	require.Equal(t, 0, o.Int("missing", 0))
	require.Equal(t, true, o.Bool("b", false))
	require.Equal(t, false, o.Bool("missing", false))
}

func TestOptionsStringSliceNormalizes(t *testing.T) {
	require.Equal(t, []string{"a"}, Options{"k": "a"}.StringSlice("k"))
	require.Equal(t, []string{"a", "b"}, Options{"k": []string{"a", "b"}}.StringSlice("k"))
	require.Nil(t, Options{}.StringSlice("missing"))
	require.Nil(t, Options{"k": ""}.StringSlice("k"))
}
