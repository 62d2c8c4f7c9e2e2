// Package safenav walks untyped JSON values without panicking on missing or
// mistyped intermediate nodes.
package safenav

// Lookup follows path through v. String steps index objects and int steps
// index arrays. It reports false as soon as a step does not apply.
func Lookup(v any, path ...any) (any, bool) {
	cur := v
	for _, step := range path {
		switch key := step.(type) {
		case string:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			next, ok := obj[key]
			if !ok {
				return nil, false
			}
			cur = next
		case int:
			arr, ok := cur.([]any)
			if !ok || key < 0 || key >= len(arr) {
				return nil, false
			}
			cur = arr[key]
		default:
			return nil, false
		}
	}
	return cur, true
}

// String is Lookup restricted to string leaves.
func String(v any, path ...any) (string, bool) {
	leaf, ok := Lookup(v, path...)
	if !ok {
		return "", false
	}
	s, ok := leaf.(string)
	return s, ok
}
