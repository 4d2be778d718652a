package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"
)

// TableFormatter prints aligned columns.
//
// Slices of structs become one row per element, maps and single structs
// become key/value rows. Struct fields take their column name from the
// json tag; `table:"-"` hides a field and `table:"wide"` shows it only
// with Wide. Other shapes are printed as JSON.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

// Format writes data as a table.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch t := data.(type) {
	case nil:
		return nil
	case *Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	case Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	}

	t, ok := f.build(reflect.ValueOf(data))
	if !ok {
		return (&JSONFormatter{}).Format(w, data)
	}
	return t.RenderWithOptions(w, f.NoHeaders)
}

func (f *TableFormatter) build(v reflect.Value) (*Table, bool) {
	v, ok := deref(v)
	if !ok {
		return &Table{}, true
	}
	if v.Type().Implements(stringerType) {
		return nil, false
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return f.rows(v), true
	case reflect.Map:
		t := &Table{Headers: []string{"KEY", "VALUE"}}
		for it := v.MapRange(); it.Next(); {
			t.AddRow(formatValue(it.Key()), formatValue(it.Value()))
		}
		sort.Slice(t.Rows, func(i, j int) bool { return t.Rows[i][0] < t.Rows[j][0] })
		return t, true
	case reflect.Struct:
		t := &Table{Headers: []string{"FIELD", "VALUE"}}
		for _, c := range visibleFields(v.Type(), f.Wide) {
			t.AddRow(c.name, formatValue(v.Field(c.index)))
		}
		return t, true
	}
	return nil, false
}

// rows prints one row per element. Elements that are not structs get a
// single VALUE column.
func (f *TableFormatter) rows(v reflect.Value) *Table {
	elem := v.Type().Elem()
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	if elem.Kind() != reflect.Struct || elem.Implements(stringerType) {
		t := &Table{Headers: []string{"VALUE"}}
		for i := 0; i < v.Len(); i++ {
			t.AddRow(formatValue(v.Index(i)))
		}
		return t
	}

	fields := visibleFields(elem, f.Wide)
	t := &Table{Headers: make([]string, len(fields))}
	for i, c := range fields {
		t.Headers[i] = headerName(c.name)
	}
	for i := 0; i < v.Len(); i++ {
		row := make([]string, len(fields))
		if s, ok := deref(v.Index(i)); ok {
			for j, c := range fields {
				row[j] = formatValue(s.Field(c.index))
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

type field struct {
	index int
	name  string
}

func visibleFields(t reflect.Type, wide bool) []field {
	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		switch sf.Tag.Get("table") {
		case "-":
			continue
		case "wide":
			if !wide {
				continue
			}
		}
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		out = append(out, field{index: i, name: name})
	}
	return out
}

// deref follows pointers and interfaces. ok is false for nil.
func deref(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

var (
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	timeType     = reflect.TypeOf(time.Time{})
)

// formatValue renders one cell. Empty values print as "-".
func formatValue(v reflect.Value) string {
	v, ok := deref(v)
	if !ok {
		if v.IsValid() {
			return "-"
		}
		return ""
	}

	if v.Type() == timeType {
		if t := v.Interface().(time.Time); !t.IsZero() {
			return t.Format(time.RFC3339)
		}
		return "-"
	}
	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
	}

	switch v.Kind() {
	case reflect.String:
		return dash(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits())
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice, reflect.Array:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = formatValue(v.Index(i))
		}
		return dash(strings.Join(parts, ","))
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
	}

	b, err := json.Marshal(v.Interface())
	if err != nil {
		return fmt.Sprint(v.Interface())
	}
	return string(b)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// headerName upper-cases a field name, inserting "_" at word starts:
// ServerID -> SERVER_ID, cache_size -> CACHE_SIZE.
func headerName(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Table is preformatted tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render writes the table with its headers.
func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions writes the table, optionally without the header row.
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// SetHeaders replaces the header row.
func (t *Table) SetHeaders(headers ...string) {
	t.Headers = headers
}
