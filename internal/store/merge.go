package store

import "reflect"

// DeepMerge merges src into dst recursively and returns the number of leaves
// that changed. Nested maps merge field-by-field; missing leaves keep their
// prior values. Nil and empty-string updates are ignored rather than treated
// as deletions, so a sparse correction payload can never erase data.
func DeepMerge(dst, src map[string]any) int {
	changed := 0
	for key, val := range src {
		switch v := val.(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
			if dst[key] != v {
				dst[key] = v
				changed++
			}
		case map[string]any:
			if len(v) == 0 {
				continue
			}
			existing, ok := dst[key].(map[string]any)
			if !ok {
				existing = make(map[string]any, len(v))
				dst[key] = existing
			}
			changed += DeepMerge(existing, v)
		default:
			if !reflect.DeepEqual(dst[key], val) {
				dst[key] = val
				changed++
			}
		}
	}
	return changed
}
