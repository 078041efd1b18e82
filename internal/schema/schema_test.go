package schema

import (
	"strings"
	"testing"
)

func sampleDescriptor() Descriptor {
	return Descriptor{
		Tables: []Table{
			{
				Name: "orders",
				Columns: []Column{
					{Name: "id", DataType: "bigint"},
					{Name: "total", DataType: "numeric", Nullable: true},
				},
				SampleRows: []map[string]any{{"id": 1, "total": "12.50"}},
			},
			{
				Name: "customers",
				Columns: []Column{
					{Name: "id", DataType: "bigint"},
					{Name: "name", DataType: "text", Nullable: true},
				},
			},
		},
	}
}

func TestRenderFull(t *testing.T) {
	text := sampleDescriptor().Render(0)

	for _, want := range []string{"TABLE orders", "TABLE customers", "id bigint NOT NULL", "total numeric\n", "sample rows (1):"} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendering missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, truncationMarker) {
		t.Fatalf("unexpected truncation marker:\n%s", text)
	}
}

func TestRenderTruncatesAtTableBoundary(t *testing.T) {
	descriptor := sampleDescriptor()
	full := descriptor.Render(0)

	text := descriptor.Render(len(full) - 10)
	if !strings.Contains(text, "TABLE orders") {
		t.Fatalf("first table dropped:\n%s", text)
	}
	if strings.Contains(text, "TABLE customers") {
		t.Fatalf("second table should have been dropped:\n%s", text)
	}
	if !strings.Contains(text, truncationMarker) {
		t.Fatalf("truncation marker missing:\n%s", text)
	}
}

func TestRenderListsMissingTables(t *testing.T) {
	descriptor := sampleDescriptor()
	descriptor.MissingTables = []string{"ghosts", "phantoms"}

	text := descriptor.Render(0)
	if !strings.Contains(text, "-- missing tables: ghosts, phantoms") {
		t.Fatalf("missing-tables header absent:\n%s", text)
	}
}
