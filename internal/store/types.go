package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice is a set-valued field (tech stack, matched patterns, ...)
// stored as a JSON array so both Postgres and the sqlite test dialect can
// hold it without a join table.
type StringSlice []string

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	b, err := toBytes(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(b, s)
}

// Union returns the deduplicated set union of s and other, sorted-stable by
// first occurrence (matches the field-merge policy's "set union" rule).
func (s StringSlice) Union(other []string) StringSlice {
	seen := make(map[string]struct{}, len(s)+len(other))
	out := make(StringSlice, 0, len(s)+len(other))
	for _, v := range s {
		if _, ok := seen[v]; !ok && v != "" {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range other {
		if _, ok := seen[v]; !ok && v != "" {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// JSON is a generic GORM-compatible column wrapper for structured values
// (stage progress lists, cached counts) that don't warrant their own table.
type JSON[T any] struct {
	Val T
}

// Value implements driver.Valuer.
func (j JSON[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Val)
}

// Scan implements sql.Scanner.
func (j *JSON[T]) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	b, err := toBytes(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, &j.Val)
}

func toBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("store: unsupported scan source type %T", src)
	}
}
