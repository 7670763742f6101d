package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/luyichen/pikapost/internal/common"
)

// Row is one loosely-typed record from the store. Joined rows appear as
// nested Row values under the join alias.
type Row map[string]any

// Fields is the write-side counterpart of Row.
type Fields map[string]any

// Str returns the value as a string, or "" when absent or null.
func (r Row) Str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ReqStr returns a required non-empty string column, failing with ErrBadRow
// when it is missing. Mapping functions use it for identity columns so a
// malformed row surfaces a typed error instead of a silently empty field.
func (r Row) ReqStr(key string) (string, error) {
	s := r.Str(key)
	if s == "" {
		return "", fmt.Errorf("%w: missing required column %q", common.ErrBadRow, key)
	}
	return s, nil
}

// Bool returns the value as a bool; absent, null and unrecognized values are
// false. Integer 0/1 and textual forms are accepted because drivers disagree
// about boolean columns.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}

// Int returns the value as an int64, or 0 when absent or unparsable.
func (r Row) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// timeLayouts accepted for date columns, broadest first.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses a date/timestamp column. Absent or null values return the zero
// time without error; a present but unparsable value is a bad row.
func (r Row) Time(key string) (time.Time, error) {
	switch v := r[key].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: column %q: unparsable time %q", common.ErrBadRow, key, v)
	case []byte:
		r2 := Row{key: string(v)}
		return r2.Time(key)
	default:
		return time.Time{}, fmt.Errorf("%w: column %q: unexpected time type %T", common.ErrBadRow, key, v)
	}
}

// Sub returns the nested row stored under a join alias, or nil when the join
// found no counterpart.
func (r Row) Sub(key string) Row {
	switch v := r[key].(type) {
	case Row:
		return v
	case map[string]any:
		return Row(v)
	default:
		return nil
	}
}
