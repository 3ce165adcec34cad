package assembler

import (
	"strconv"
	"strings"
)

// Resolve walks a decoded JSON tree by a dot-separated path. Nested objects
// are traversed by key, arrays by numeric segment ("items.0.amount"). The
// boolean result distinguishes "not found" from a present null or empty value.
func Resolve(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	var current interface{} = data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Flatten produces a flat dot-path view of a decoded JSON tree. Arrays are
// indexed numerically. Scalar leaves only; empty containers are dropped.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenInto(out, "", data)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, value interface{}) {
	switch node := value.(type) {
	case map[string]interface{}:
		for key, child := range node {
			flattenInto(out, joinPath(prefix, key), child)
		}
	case []interface{}:
		for i, child := range node {
			flattenInto(out, joinPath(prefix, strconv.Itoa(i)), child)
		}
	default:
		if prefix != "" {
			out[prefix] = node
		}
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}
