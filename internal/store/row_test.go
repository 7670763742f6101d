package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luyichen/pikapost/internal/common"
)

func TestRowStr(t *testing.T) {
	r := Row{"a": "x", "b": []byte("y"), "c": nil}
	require.Equal(t, "x", r.Str("a"))
	require.Equal(t, "y", r.Str("b"))
	require.Equal(t, "", r.Str("c"))
	require.Equal(t, "", r.Str("missing"))
}

func TestRowReqStr(t *testing.T) {
	r := Row{"id": "p-1", "empty": ""}

	got, err := r.ReqStr("id")
	require.NoError(t, err)
	require.Equal(t, "p-1", got)

	_, err = r.ReqStr("empty")
	require.ErrorIs(t, err, common.ErrBadRow)

	_, err = r.ReqStr("missing")
	require.ErrorIs(t, err, common.ErrBadRow)
}

func TestRowBool(t *testing.T) {
	r := Row{"t": true, "one": int64(1), "zero": int64(0), "s": "true", "junk": "?"}
	require.True(t, r.Bool("t"))
	require.True(t, r.Bool("one"))
	require.False(t, r.Bool("zero"))
	require.True(t, r.Bool("s"))
	require.False(t, r.Bool("junk"))
	require.False(t, r.Bool("missing"))
}

func TestRowTime(t *testing.T) {
	r := Row{
		"date":  "2024-01-05",
		"ts":    "2024-01-05T10:30:00Z",
		"none":  nil,
		"junk":  "yesterday-ish",
		"typed": time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	d, err := r.Time("date")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), d)

	ts, err := r.Time("ts")
	require.NoError(t, err)
	require.Equal(t, 10, ts.Hour())

	z, err := r.Time("none")
	require.NoError(t, err)
	require.True(t, z.IsZero())

	_, err = r.Time("junk")
	require.ErrorIs(t, err, common.ErrBadRow)

	tt, err := r.Time("typed")
	require.NoError(t, err)
	require.Equal(t, 2024, tt.Year())
}

func TestRowSub(t *testing.T) {
	r := Row{
		"postcard": Row{"id": "p-1"},
		"profile":  map[string]any{"id": "u-1"},
	}
	require.Equal(t, "p-1", r.Sub("postcard").Str("id"))
	require.Equal(t, "u-1", r.Sub("profile").Str("id"))
	require.Nil(t, r.Sub("missing"))
}
