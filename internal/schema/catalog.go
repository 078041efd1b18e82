package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Catalog reads table and column metadata from information_schema,
// which both supported target drivers expose.
type Catalog struct {
	db         *sql.DB
	logger     *slog.Logger
	sampleRows int
}

func NewCatalog(db *sql.DB, logger *slog.Logger, sampleRows int) *Catalog {
	if sampleRows < 0 {
		sampleRows = 0
	}
	return &Catalog{db: db, logger: logger, sampleRows: sampleRows}
}

// Describe snapshots the visible schema. With a non-empty allow-list
// only those tables are described; names that do not exist are skipped
// and reported in MissingTables rather than failing the snapshot. When
// no allow-listed table exists at all the snapshot is useless and the
// call fails.
func (c *Catalog) Describe(ctx context.Context, allowedTables []string) (Descriptor, error) {
	existing, err := c.listTables(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	names := existing
	var missing []string
	if len(allowedTables) > 0 {
		byLower := make(map[string]string, len(existing))
		for _, name := range existing {
			byLower[strings.ToLower(name)] = name
		}
		names = names[:0]
		for _, wanted := range allowedTables {
			name, ok := byLower[strings.ToLower(strings.TrimSpace(wanted))]
			if !ok {
				missing = append(missing, wanted)
				c.logger.Warn("allow-listed table not found", slog.String("table", wanted))
				continue
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return Descriptor{}, fmt.Errorf("%w: none of the allow-listed tables exist: %s", ErrUnavailable, strings.Join(missing, ", "))
		}
	}

	descriptor := Descriptor{MissingTables: missing, FetchedAt: time.Now().UTC()}
	for _, name := range names {
		table, err := c.describeTable(ctx, name)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: table %s: %v", ErrUnavailable, name, err)
		}
		descriptor.Tables = append(descriptor.Tables, table)
	}
	return descriptor, nil
}

func (c *Catalog) listTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *Catalog) describeTable(ctx context.Context, name string) (Table, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = $1
		  AND table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY ordinal_position`, name)
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()

	table := Table{Name: name}
	for rows.Next() {
		var column Column
		var nullable string
		if err := rows.Scan(&column.Name, &column.DataType, &nullable); err != nil {
			return Table{}, err
		}
		column.Nullable = strings.EqualFold(nullable, "YES")
		table.Columns = append(table.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}

	if c.sampleRows > 0 {
		samples, err := c.sampleTable(ctx, name)
		if err != nil {
			// A table that cannot be sampled is still worth describing.
			c.logger.Warn("sampling table failed", slog.String("table", name), slog.String("error", err.Error()))
		} else {
			table.SampleRows = samples
		}
	}
	return table, nil
}

func (c *Catalog) sampleTable(ctx context.Context, name string) ([]map[string]any, error) {
	query := fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, quoteIdentifier(name), c.sampleRows)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var samples []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		samples = append(samples, row)
	}
	return samples, rows.Err()
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return value
	}
}

func quoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
