package models

import (
	"strings"
)

// NormalizeTagList collapses a descriptor's list of single-pair tag objects
// into one key->value map. Keys are trimmed; the last occurrence of a key wins.
func NormalizeTagList(tags []map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, t := range tags {
		for k, v := range t {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			out[k] = strings.TrimSpace(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseTagColumn parses the flat staging format's tag column,
// "key:value|key2:value2", into a key->value map. Pairs without a colon are
// dropped; the last occurrence of a key wins.
func ParseTagColumn(column string) map[string]string {
	column = strings.TrimSpace(column)
	if column == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(column, "|") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
