package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ConflictError reports two sources defining the same key with different
// non-map values.
type ConflictError struct {
	Path string
	Have any
	Want any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("metadata conflict at %s: %v != %v", e.Path, e.Have, e.Want)
}

// Merge merges src into dst in place. Nested maps merge recursively, equal
// leaves are kept, and differing leaves fail with *ConflictError naming the
// dotted key path. Values copied from src are deep-copied so dst never
// aliases the caller's data.
func Merge(dst, src map[string]any) error {
	return merge(dst, src, nil)
}

func merge(dst, src map[string]any, path []string) error {
	for key, sv := range src {
		dv, exists := dst[key]
		if !exists {
			dst[key] = clone(sv)
			continue
		}

		dm, dIsMap := dv.(map[string]any)
		sm, sIsMap := sv.(map[string]any)
		if dIsMap && sIsMap {
			if err := merge(dm, sm, append(path, key)); err != nil {
				return err
			}
			continue
		}

		if leavesEqual(dv, sv) {
			continue
		}
		return &ConflictError{
			Path: strings.Join(append(path, key), "."),
			Have: dv,
			Want: sv,
		}
	}
	return nil
}

// leavesEqual compares two leaves. Values decoded from JSON differ in Go type
// from generated ones ([]any vs []string, float64 vs int), so equal JSON
// encodings count as equal.
func leavesEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = clone(vv)
		}
		return out
	default:
		return v
	}
}
