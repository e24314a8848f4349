package postgres

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// collectRows converts pgx.Rows into a slice of maps keyed by column name and
// closes rows. A statement without a result set (INSERT, UPDATE or DELETE
// with no RETURNING) yields one row holding the affected row count.
func collectRows(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	if len(fields) == 0 {
		// Close reads through to CommandComplete, which carries the tag.
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating rows: %w", err)
		}
		return []map[string]any{{RowsAffectedColumn: rows.CommandTag().RowsAffected()}}, nil
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = jsonValue(vals[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return result, nil
}

// jsonValue maps driver values that encode badly to JSON. uuid columns,
// common as tenant ids, decode to [16]byte.
func jsonValue(v any) any {
	if b, ok := v.([16]byte); ok {
		return uuid.UUID(b).String()
	}
	return v
}
