package realtime

import "strings"

// FieldRedactor strips configured protected fields from outbound records.
// Paths may be dotted to reach into nested objects ("address.zip"). The
// source record is never mutated; maps along a redacted path are copied.
type FieldRedactor struct {
	paths [][]string
}

func NewFieldRedactor(fields []string) *FieldRedactor {
	paths := make([][]string, 0, len(fields))
	for _, field := range fields {
		if field == "" {
			continue
		}
		paths = append(paths, strings.Split(field, "."))
	}
	return &FieldRedactor{paths: paths}
}

// Apply returns the record with all protected paths removed.
func (r *FieldRedactor) Apply(record map[string]interface{}) map[string]interface{} {
	if r == nil || len(r.paths) == 0 || record == nil {
		return record
	}

	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		out[k] = v
	}
	for _, path := range r.paths {
		redactPath(out, path)
	}
	return out
}

func redactPath(m map[string]interface{}, path []string) {
	if len(path) == 1 {
		delete(m, path[0])
		return
	}

	child, ok := m[path[0]].(map[string]interface{})
	if !ok {
		return
	}
	copied := make(map[string]interface{}, len(child))
	for k, v := range child {
		copied[k] = v
	}
	redactPath(copied, path[1:])
	m[path[0]] = copied
}
