package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL(t *testing.T) {
	got, err := UpsertSQL(UpsertConfig{
		Table:        "provider_resolutions",
		Columns:      []string{"provider_id", "tier", "geom"},
		ConflictKeys: []string{"provider_id"},
		Casts:        map[string]string{"geom": "geometry"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "provider_resolutions" ("provider_id", "tier", "geom") VALUES ($1, $2, $3::geometry) ON CONFLICT ("provider_id") DO UPDATE SET "tier" = EXCLUDED."tier", "geom" = EXCLUDED."geom"`,
		got)
}

func TestUpsertSQL_Where(t *testing.T) {
	got, err := UpsertSQL(UpsertConfig{
		Table:        "provider_resolutions",
		Columns:      []string{"provider_id", "status"},
		ConflictKeys: []string{"provider_id"},
		Where:        `provider_resolutions.status <> 'MANUALLY_CORRECTED'`,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "provider_resolutions" ("provider_id", "status") VALUES ($1, $2) ON CONFLICT ("provider_id") DO UPDATE SET "status" = EXCLUDED."status" WHERE provider_resolutions.status <> 'MANUALLY_CORRECTED'`,
		got)
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	got, err := UpsertSQL(UpsertConfig{
		Table:        "geo.resolution_audit",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "geo"."resolution_audit" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING`, got)
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id", "name"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
	assert.Panics(t, func() { MustUpsertSQL(UpsertConfig{Table: "t"}) })
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"geo.provider_resolutions", `"geo"."provider_resolutions"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
