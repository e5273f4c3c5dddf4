package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/avelar/swapflow/internal/config"
	"github.com/avelar/swapflow/internal/model"
)

// Render writes env to w according to the output settings. JSON mode emits
// the full envelope, or only the data payload with results-only. Plain mode
// flattens each record to a sorted key=value line for shell pipelines.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.OutputMode == "json" {
		if settings.ResultsOnly {
			return writeJSON(w, data)
		}
		env.Data = data
		return writeJSON(w, env)
	}

	if settings.ResultsOnly {
		return writePlain(w, data)
	}
	flat := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		flat["error"] = env.Error
	}
	return writePlain(w, flat)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePlain(w io.Writer, data any) error {
	switch v := jsonShape(data).(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(v) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for _, item := range v {
			if _, err := fmt.Fprintln(w, formatRow(item)); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(w, formatRow(v))
		return err
	}
}

// project keeps only the requested fields of each record. A field may be a
// dot path ("quote.expected_out"); the leaf value is stored under the full
// path so selected output stays flat.
func project(data any, fields []string) any {
	switch v := jsonShape(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectRecord(m, fields))
		}
		return out
	case map[string]any:
		return projectRecord(v, fields)
	default:
		return v
	}
}

func projectRecord(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookupPath(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookupPath(m map[string]any, path string) (any, bool) {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		rec, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = rec[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// jsonShape reduces an arbitrary value to JSON's generic types so plain
// rendering and field selection see the same shapes JSON output would.
func jsonShape(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func formatRow(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(buf)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
