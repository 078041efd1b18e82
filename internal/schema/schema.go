// Package schema introspects the target database and renders a compact
// text description of its tables for the model's context window.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable wraps introspection failures so callers can tell a
// broken catalog apart from an empty one.
var ErrUnavailable = errors.New("schema unavailable")

type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

type Table struct {
	Name       string           `json:"name"`
	Columns    []Column         `json:"columns"`
	SampleRows []map[string]any `json:"sample_rows,omitempty"`
}

// Descriptor is a point-in-time snapshot of the visible schema.
// MissingTables lists allow-listed names that did not exist when the
// snapshot was taken.
type Descriptor struct {
	Tables        []Table   `json:"tables"`
	MissingTables []string  `json:"missing_tables,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}

const truncationMarker = "-- ...truncated"

// Render formats the descriptor as plain text. When maxBytes is
// positive and the full rendering would exceed it, whole trailing
// tables are dropped and a truncation marker is appended. A single
// oversized table is still rendered with just the marker after it.
func (d Descriptor) Render(maxBytes int) string {
	var builder strings.Builder

	if len(d.MissingTables) > 0 {
		builder.WriteString("-- missing tables: ")
		builder.WriteString(strings.Join(d.MissingTables, ", "))
		builder.WriteString("\n\n")
	}

	truncated := false
	for i, table := range d.Tables {
		block := renderTable(table)
		if maxBytes > 0 && builder.Len() > 0 && builder.Len()+len(block)+len(truncationMarker)+1 > maxBytes {
			truncated = true
			break
		}
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(block)
	}
	if truncated {
		builder.WriteString(truncationMarker)
		builder.WriteString("\n")
	}
	return builder.String()
}

func renderTable(table Table) string {
	var builder strings.Builder
	builder.WriteString("TABLE ")
	builder.WriteString(table.Name)
	builder.WriteString("\n")
	for _, column := range table.Columns {
		builder.WriteString("  ")
		builder.WriteString(column.Name)
		builder.WriteString(" ")
		builder.WriteString(column.DataType)
		if !column.Nullable {
			builder.WriteString(" NOT NULL")
		}
		builder.WriteString("\n")
	}
	if len(table.SampleRows) > 0 {
		builder.WriteString(fmt.Sprintf("  sample rows (%d):\n", len(table.SampleRows)))
		for _, row := range table.SampleRows {
			encoded, err := json.Marshal(row)
			if err != nil {
				continue
			}
			builder.WriteString("    ")
			builder.Write(encoded)
			builder.WriteString("\n")
		}
	}
	return builder.String()
}
