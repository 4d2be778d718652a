package output

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

type leafRow struct {
	Path   string             `json:"path"`
	Owner  domain.ServerID    `json:"owner"`
	Bounds domain.BoundingBox `json:"bounds" table:"wide"`
	secret string
	Hidden string `json:"-"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON, false).(*JSONFormatter); !ok {
		t.Error("json format should give JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML, false).(*YAMLFormatter); !ok {
		t.Error("yaml format should give YAMLFormatter")
	}
	if f, ok := NewFormatter(FormatTable, true).(*TableFormatter); !ok || !f.Wide {
		t.Error("table format should give a wide TableFormatter")
	}
}

func TestTableFormatter_Slice(t *testing.T) {
	rows := []leafRow{
		{Path: "0", Owner: 1, Bounds: domain.NewBoundingBox(domain.Vector3{}, domain.Vector3{X: 1, Y: 1, Z: 1})},
		{Path: "1", Owner: 2},
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, rows); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"PATH", "OWNER", "0", "1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "BOUNDS") {
		t.Error("wide column shown without --wide")
	}
	if strings.Contains(out, "HIDDEN") || strings.Contains(out, "SECRET") {
		t.Error("hidden fields shown")
	}

	buf.Reset()
	if err := (&TableFormatter{Wide: true}).Format(&buf, rows); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "BOUNDS") {
		t.Error("wide column missing with --wide")
	}
}

func TestTableFormatter_Map(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{NoHeaders: true}).Format(&buf, map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "a") {
		t.Errorf("map rows not sorted: %q", lines)
	}
}

func TestTableFormatter_Struct(t *testing.T) {
	var buf bytes.Buffer
	row := leafRow{Path: "01", Owner: 7}
	if err := (&TableFormatter{}).Format(&buf, &row); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "FIELD") || !strings.Contains(out, "owner") || !strings.Contains(out, "7") {
		t.Errorf("unexpected struct table:\n%s", out)
	}
}

func TestTableFormatter_Table(t *testing.T) {
	table := Table{}
	table.SetHeaders("NAME", "VALUE")
	table.AddRow("key1", "value1")

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, table); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "NAME") || !strings.Contains(buf.String(), "value1") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestTableFormatter_FallbackToJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, 42); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "42" {
		t.Errorf("got %q", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	id := domain.NewObjectID()
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var nilPtr *int

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"EmptyString", "", "-"},
		{"Int", -3, "-3"},
		{"Uint", uint16(9), "9"},
		{"Float32", float32(1.5), "1.5"},
		{"Float64", 0.1, "0.1"},
		{"Bool", true, "true"},
		{"ServerID", domain.ServerID(4), "4"},
		{"ObjectID", id, id.String()},
		{"Address", domain.Address{Host: "10.0.0.1", Port: 5090}, "10.0.0.1:5090"},
		{"Time", when, "2026-01-02T03:04:05Z"},
		{"ZeroTime", time.Time{}, "-"},
		{"Slice", []string{"a", "b"}, "a,b"},
		{"EmptySlice", []string{}, "-"},
		{"NilPointer", nilPtr, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(reflect.ValueOf(tt.in)); got != tt.want {
				t.Errorf("formatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{Compact: true}).Format(&buf, leafRow{Path: "0", Owner: 1}); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("compact output spans lines: %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"owner":1`) {
		t.Errorf("unexpected json: %s", buf.String())
	}
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{
		"leaf":  leafRow{Path: "0", Owner: 1},
		"flag":  "true",
		"count": 3,
	}
	if err := (&YAMLFormatter{}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"count: 3", `flag: "true"`, "path: \"0\"", "owner: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{") {
		t.Errorf("yaml kept flow style:\n%s", out)
	}
}

func TestHeaderName(t *testing.T) {
	tests := map[string]string{
		"ServerID":     "SERVER_ID",
		"leaves":       "LEAVES",
		"cache_size":   "CACHE_SIZE",
		"HTTPAddr":     "HTTP_ADDR",
		"maxLeafDepth": "MAX_LEAF_DEPTH",
	}
	for in, want := range tests {
		if got := headerName(in); got != want {
			t.Errorf("headerName(%q) = %q, want %q", in, got, want)
		}
	}
}
