// Package canonicaljson provides deterministic (stable key order) JSON
// encoding, used to derive byte-stable digests from structured data such as
// an election definition or a ballot's signed payload.
//
// Adapted from the teacher's pkg/commitment package (its RFC8785-style
// canonicalization), trimmed to the single Marshal function this repo
// actually needs; callers hash its output themselves.
package canonicaljson

import (
	"encoding/json"
	"sort"
)

// Marshal encodes v as JSON with every object's keys sorted, so the same
// logical value always produces the same bytes regardless of struct field
// order or map iteration order.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalize(generic))
}

func canonicalize(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalize(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return vv
	}
}
