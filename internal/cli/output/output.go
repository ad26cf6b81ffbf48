package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

func DefaultFormat() string {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "table"
	}
	return "json"
}

// column describes one field of a list rendering.
type column struct {
	header string
	keys   []string
}

// listKinds maps the payload key of each list response to its columns. The first
// column is what quiet mode prints.
var listKinds = []struct {
	key     string
	columns []column
}{
	{"agents", []column{
		{"ID", []string{"id", "_id"}},
		{"NAME", []string{"name"}},
		{"DESCRIPTION", []string{"description"}},
		{"CAPABILITIES", []string{"capabilities", "memoryTypes"}},
	}},
	{"memories", []column{
		{"ID", []string{"id", "_id"}},
		{"AGENT", []string{"agentId"}},
		{"TYPE", []string{"type", "memoryType"}},
		{"CREATED", []string{"createdAt", "timestamp"}},
		{"CONTENT", []string{"content", "data"}},
	}},
	{"schemas", []column{
		{"ID", []string{"id", "_id"}},
		{"NAME", []string{"name", "agentId"}},
		{"DESCRIPTION", []string{"description"}},
	}},
	{"logs", []column{
		{"ID", []string{"id", "_id"}},
		{"ACTION", []string{"action"}},
		{"RESOURCE", []string{"resource"}},
		{"AGENT", []string{"agentId"}},
		{"TIMESTAMP", []string{"timestamp", "createdAt"}},
	}},
}

func Print(w io.Writer, payload map[string]any, format string, quiet bool) error {
	if quiet {
		format = "quiet"
	}
	format = strings.TrimSpace(strings.ToLower(format))
	if format == "" {
		format = DefaultFormat()
	}

	switch format {
	case "json":
		return printJSON(w, payload)
	case "yaml", "yml":
		return printYAML(w, payload)
	case "table":
		return printTable(w, payload)
	case "plain":
		return printPlain(w, payload)
	case "md":
		return printMarkdown(w, payload)
	case "quiet":
		return printQuiet(w, payload)
	default:
		return errors.New("invalid --format value")
	}
}

func PrintJSON(w io.Writer, v any) error {
	return printJSON(w, v)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func findList(payload map[string]any) ([]column, []map[string]any, bool) {
	for _, kind := range listKinds {
		if hasKey(payload, kind.key) {
			return kind.columns, toObjectSlice(payload[kind.key]), true
		}
	}
	return nil, nil, false
}

func printTable(w io.Writer, payload map[string]any) error {
	columns, rows, ok := findList(payload)
	if !ok {
		return printJSON(w, payload)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.header
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = truncate(field(row, c.keys), 60)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func printPlain(w io.Writer, payload map[string]any) error {
	columns, rows, ok := findList(payload)
	if !ok {
		if id := field(payload, []string{"id", "_id"}); id != "" {
			_, err := fmt.Fprintf(w, "%s %s\n", id, field(payload, []string{"name", "type", "message"}))
			return err
		}
		return printJSON(w, payload)
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s %s\n", field(row, columns[0].keys), field(row, columns[1].keys))
	}
	return nil
}

func printMarkdown(w io.Writer, payload map[string]any) error {
	columns, rows, ok := findList(payload)
	if !ok {
		return printJSON(w, payload)
	}
	for _, row := range rows {
		fmt.Fprintf(w, "- `%s` **%s**", field(row, columns[0].keys), field(row, columns[1].keys))
		if len(columns) > 2 {
			if extra := field(row, columns[2].keys); extra != "" {
				fmt.Fprintf(w, " (%s)", extra)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printQuiet(w io.Writer, payload map[string]any) error {
	columns, rows, ok := findList(payload)
	if !ok {
		if id := field(payload, []string{"id", "_id"}); id != "" {
			_, err := fmt.Fprintln(w, id)
			return err
		}
		return printJSON(w, payload)
	}
	for _, row := range rows {
		fmt.Fprintln(w, field(row, columns[0].keys))
	}
	return nil
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func toObjectSlice(v any) []map[string]any {
	switch in := v.(type) {
	case []map[string]any:
		return in
	case []any:
		out := make([]map[string]any, 0, len(in))
		for _, item := range in {
			if row, ok := item.(map[string]any); ok {
				out = append(out, row)
			}
		}
		return out
	default:
		// Typed slices such as []client.Object go through JSON.
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var out []map[string]any
		if err := dec.Decode(&out); err != nil {
			return nil
		}
		return out
	}
}

// field returns the first present key, rendered as a string.
func field(row map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return str(v)
		}
	}
	return ""
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, str(p))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
