// Package render formats command output as json, yaml or a table.
//
// Format selection:
//   - --format always wins; invalid formats are errors
//   - otherwise a terminal gets a table and anything else gets json
package render

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseFormat parses a format string. "" is valid and means "pick a
// default for the output".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer creates a renderer writing to out. An empty format picks
// table for a terminal and json otherwise.
func NewRenderer(format string, out *os.File) (*Renderer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if f == "" {
		f = DefaultFormat(out)
	}
	return &Renderer{format: f, out: out}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer.
func NewRendererWithWriter(format Format, out io.Writer) *Renderer {
	return &Renderer{format: format, out: out}
}

// DefaultFormat returns table when f is a terminal, json otherwise.
func DefaultFormat(f *os.File) Format {
	if IsTerminal(f) {
		return FormatTable
	}
	return FormatJSON
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Format returns the selected output format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTable(data any) error {
	v := indirect(reflect.ValueOf(data))
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		return r.renderSliceTable(v)
	}
	return r.renderKeyValueTable(v)
}

func (r *Renderer) renderSliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	headers := columns(v)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(headers, "\t")))
	for i := range v.Len() {
		fmt.Fprintln(w, strings.Join(rowValues(v.Index(i), headers), "\t"))
	}
	return w.Flush()
}

func (r *Renderer) renderKeyValueTable(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	switch v.Kind() {
	case reflect.Struct:
		writeStructFields(w, v)
	case reflect.Map:
		for _, key := range sortedKeys(v) {
			fmt.Fprintf(w, "%s:\t%s\n", key, formatValue(mapIndex(v, key)))
		}
	case reflect.Invalid:
	default:
		fmt.Fprintf(w, "%v\n", v.Interface())
	}

	return w.Flush()
}

// writeStructFields writes one line per exported field. Embedded structs
// are flattened.
func writeStructFields(w io.Writer, v reflect.Value) {
	t := v.Type()
	for i := range v.NumField() {
		field := t.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			writeStructFields(w, v.Field(i))
			continue
		}
		if !field.IsExported() {
			continue
		}
		fmt.Fprintf(w, "%s:\t%s\n", fieldName(field), formatValue(v.Field(i)))
	}
}

// columns derives table headers from the slice elements: struct fields in
// declaration order, or the sorted union of map keys.
func columns(v reflect.Value) []string {
	first := indirect(v.Index(0))
	switch first.Kind() {
	case reflect.Struct:
		t := first.Type()
		var headers []string
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() {
				headers = append(headers, fieldName(f))
			}
		}
		return headers
	case reflect.Map:
		seen := make(map[string]struct{})
		for i := range v.Len() {
			elem := indirect(v.Index(i))
			if elem.Kind() != reflect.Map {
				continue
			}
			for _, k := range sortedKeys(elem) {
				seen[k] = struct{}{}
			}
		}
		headers := make([]string, 0, len(seen))
		for k := range seen {
			headers = append(headers, k)
		}
		sort.Strings(headers)
		return headers
	default:
		return []string{"value"}
	}
}

func rowValues(v reflect.Value, headers []string) []string {
	v = indirect(v)
	values := make([]string, 0, len(headers))
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if t.Field(i).IsExported() {
				values = append(values, formatValue(v.Field(i)))
			}
		}
	case reflect.Map:
		for _, h := range headers {
			values = append(values, formatValue(mapIndex(v, h)))
		}
	default:
		values = append(values, formatValue(v))
	}
	return values
}

// mapIndex looks up a string key in a map whose key kind is string.
func mapIndex(m reflect.Value, key string) reflect.Value {
	return m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key()))
}

func sortedKeys(v reflect.Value) []string {
	keys := make([]string, 0, v.Len())
	for _, k := range v.MapKeys() {
		if k.Kind() == reflect.String {
			keys = append(keys, k.String())
		}
	}
	sort.Strings(keys)
	return keys
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

var timeType = reflect.TypeFor[time.Time]()

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
		return ""
	}
	v = indirect(v)

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time).Format(time.RFC3339)
		}
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// indirect follows pointers and interfaces to the underlying value.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
