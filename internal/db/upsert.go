package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines a single-row upsert statement.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	Casts        map[string]string
	Where        string // optional condition on the DO UPDATE, e.g. `t.status <> 'done'`
}

// UpsertSQL builds INSERT ... VALUES ($1..$n) ON CONFLICT (keys) DO UPDATE.
// Casts maps a column to a SQL cast applied to its placeholder, e.g.
// "geom" -> "geometry" yields "$3::geometry". With no update columns the
// statement is ON CONFLICT DO NOTHING. Where, when set, is appended to the
// DO UPDATE so a conflicting row failing it is left untouched and the
// statement reports zero rows affected.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	placeholders := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if cast, ok := cfg.Casts[col]; ok {
			placeholders[i] += "::" + cast
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)
	if len(updateCols) == 0 {
		return stmt + " DO NOTHING", nil
	}

	setClauses := make([]string, len(updateCols))
	for i, col := range updateCols {
		id := pgx.Identifier{col}.Sanitize()
		setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
	}
	stmt += " DO UPDATE SET " + strings.Join(setClauses, ", ")
	if cfg.Where != "" {
		stmt += " WHERE " + cfg.Where
	}
	return stmt, nil
}

// MustUpsertSQL is UpsertSQL for statements fixed at compile time.
func MustUpsertSQL(cfg UpsertConfig) string {
	stmt, err := UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return stmt
}

// sanitizeTable handles schema-qualified table names like "geo.provider_resolutions".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
