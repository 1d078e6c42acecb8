package fltr

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RegisterFields records the filterable fields of a mapped table in
// un0.filterfield and links them to the table's tabletype. The browser
// client reads these tables to render the filter UI. Idempotent.
func RegisterFields(ctx context.Context, db *sql.DB, schema, table string, fields []Field) error {
	for _, f := range fields {
		lookups := f.Type.Lookups()
		if len(lookups) == 0 {
			continue
		}
		quoted := make([]string, len(lookups))
		for i, l := range lookups {
			quoted[i] = "'" + string(l) + "'"
		}

		_, err := db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO un0.filterfield (accessor, label, value_type, lookups)
VALUES ($1, $2, $3, ARRAY[%s])
ON CONFLICT ON CONSTRAINT uq_filterfield_accessor_label DO UPDATE
    SET value_type = EXCLUDED.value_type, lookups = EXCLUDED.lookups;`,
			strings.Join(quoted, ", ")),
			f.Accessor, f.Label, string(f.Type))
		if err != nil {
			return fmt.Errorf("register filter field %s: %w", f.Accessor, err)
		}

		_, err = db.ExecContext(ctx, `
INSERT INTO un0.filterfield_tabletype (filterfield_id, tabletype_id)
SELECT ff.id, tt.id
FROM un0.filterfield ff, un0.tabletype tt
WHERE ff.accessor = $1 AND ff.label = $2
  AND tt.db_schema = $3 AND tt.name = $4
ON CONFLICT DO NOTHING;`,
			f.Accessor, f.Label, schema, table)
		if err != nil {
			return fmt.Errorf("link filter field %s to %s.%s: %w", f.Accessor, schema, table, err)
		}
	}
	return nil
}

// FieldsForTable reads the registered filter fields of a mapped table.
func FieldsForTable(ctx context.Context, db *sql.DB, schema, table string) ([]Field, error) {
	rows, err := db.QueryContext(ctx, `
SELECT ff.accessor, ff.label, ff.value_type
FROM un0.filterfield ff
JOIN un0.filterfield_tabletype fftt ON fftt.filterfield_id = ff.id
JOIN un0.tabletype tt ON tt.id = fftt.tabletype_id
WHERE tt.db_schema = $1 AND tt.name = $2
ORDER BY ff.accessor;`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("filter fields for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.Accessor, &f.Label, &f.Type); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}
