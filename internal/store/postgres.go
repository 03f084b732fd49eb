package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/medpanel/provider-geocoder/internal/db"
	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

// PostgresStore implements Store on PostGIS. Resolved points are also kept in
// a geometry column so map layers can query them directly.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to connString and returns a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS provider_resolutions (
	provider_id   TEXT PRIMARY KEY,
	address       TEXT NOT NULL DEFAULT '',
	latitude      DOUBLE PRECISION,
	longitude     DOUBLE PRECISION,
	geom          geometry(Point, 4326),
	tier          TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	geo_precision TEXT NOT NULL DEFAULT '',
	quality       TEXT NOT NULL DEFAULT '',
	match_quality TEXT NOT NULL DEFAULT '',
	resolved_at   TIMESTAMPTZ NOT NULL,
	is_physical   BOOLEAN NOT NULL,
	status        TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	note          TEXT NOT NULL DEFAULT '',
	run_id        TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS resolution_attempts (
	provider_id   TEXT NOT NULL REFERENCES provider_resolutions(provider_id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	pass          INTEGER NOT NULL,
	geo_precision TEXT NOT NULL,
	query_text    TEXT NOT NULL DEFAULT '',
	backend       TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL,
	quality       TEXT NOT NULL DEFAULT '',
	match_quality TEXT NOT NULL DEFAULT '',
	latitude      DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	attempted_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (provider_id, seq)
);

CREATE TABLE IF NOT EXISTS resolution_audit (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES provider_resolutions(provider_id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	prior       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	cache_key TEXT PRIMARY KEY,
	result    JSONB NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_provider_resolutions_status ON provider_resolutions(status);
CREATE INDEX IF NOT EXISTS idx_provider_resolutions_tier ON provider_resolutions(tier);
CREATE INDEX IF NOT EXISTS idx_provider_resolutions_geom ON provider_resolutions USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_resolution_audit_provider ON resolution_audit(provider_id, created_at);
`

var (
	resolutionUpsertColumns = []string{
		"provider_id", "address", "latitude", "longitude", "geom", "tier", "source", "geo_precision",
		"quality", "match_quality", "resolved_at", "is_physical", "status", "outcome", "note", "run_id",
	}

	upsertResolutionSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "provider_resolutions",
		Columns:      resolutionUpsertColumns,
		ConflictKeys: []string{"provider_id"},
		Casts:        map[string]string{"geom": "geometry"},
	})

	correctResolutionSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "provider_resolutions",
		Columns:      resolutionUpsertColumns,
		ConflictKeys: []string{"provider_id"},
		Casts:        map[string]string{"geom": "geometry"},
		Where:        `provider_resolutions.status <> '` + string(model.StatusManuallyCorrected) + `'`,
	})

	insertAuditSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "resolution_audit",
		Columns:      []string{"id", "provider_id", "kind", "prior", "created_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{},
	})

	putGeocodeSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "geocode_cache",
		Columns:      []string{"cache_key", "result", "cached_at"},
		ConflictKeys: []string{"cache_key"},
	})

	attemptColumns = []string{
		"provider_id", "seq", "pass", "geo_precision", "query_text", "backend", "outcome",
		"quality", "match_quality", "latitude", "longitude", "error", "attempted_at",
	}
)

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveResolution implements Store.
func (s *PostgresStore) SaveResolution(ctx context.Context, rec model.ResolutionRecord) error {
	return s.save(ctx, upsertResolutionSQL, rec, false)
}

// SaveCorrection implements Store. The conditional upsert re-checks the
// status under the row lock, so of two concurrent corrections one gets
// ErrCorrected.
func (s *PostgresStore) SaveCorrection(ctx context.Context, rec model.ResolutionRecord) error {
	return s.save(ctx, correctResolutionSQL, rec, true)
}

func (s *PostgresStore) save(ctx context.Context, upsert string, rec model.ResolutionRecord, guarded bool) error {
	point, err := encodePoint(rec)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, upsert,
		rec.ProviderID, rec.Address, rec.Latitude, rec.Longitude, point, string(rec.Tier), rec.Source,
		string(rec.Precision), rec.Quality, rec.MatchQuality, rec.ResolvedAt.UTC(), rec.IsPhysical,
		string(rec.Status), string(rec.Outcome), rec.Note, rec.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert resolution %s", rec.ProviderID)
	}
	if guarded && tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrCorrected, "provider %s", rec.ProviderID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM resolution_attempts WHERE provider_id = $1`, rec.ProviderID); err != nil {
		return eris.Wrapf(err, "postgres: clear attempts %s", rec.ProviderID)
	}
	rows := make([][]any, len(rec.Attempts))
	for i, a := range rec.Attempts {
		rows[i] = []any{
			rec.ProviderID, i, a.Pass, string(a.Precision), a.Query, a.Backend, string(a.Outcome),
			a.Quality, a.MatchQuality, a.Latitude, a.Longitude, a.Error, a.At.UTC(),
		}
	}
	if _, err := db.CopyFrom(ctx, tx, "resolution_attempts", attemptColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert attempts %s", rec.ProviderID)
	}

	for _, note := range rec.Audit {
		prior, err := json.Marshal(note.Prior)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit note")
		}
		if _, err := tx.Exec(ctx, insertAuditSQL, note.ID, rec.ProviderID, note.Kind, prior, note.CreatedAt.UTC()); err != nil {
			return eris.Wrapf(err, "postgres: insert audit note %s", note.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit resolution")
}

// encodePoint returns the EWKB point for rec, or nil when it has no
// coordinates.
func encodePoint(rec model.ResolutionRecord) ([]byte, error) {
	lat, lon, ok := rec.Coordinates()
	if !ok {
		return nil, nil
	}
	g := geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: encode point %s", rec.ProviderID)
	}
	return data, nil
}

const pgResolutionColumns = `provider_id, address, latitude, longitude, tier, source, geo_precision, quality,
	match_quality, resolved_at, is_physical, status, outcome, note, run_id`

// GetResolution implements Store.
func (s *PostgresStore) GetResolution(ctx context.Context, providerID string) (*model.ResolutionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgResolutionColumns+` FROM provider_resolutions WHERE provider_id = $1`, providerID)
	rec, err := scanPgResolution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "provider %s", providerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get resolution %s", providerID)
	}
	if err := s.loadChildren(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListResolutions implements Store. Records are ordered by provider id.
func (s *PostgresStore) ListResolutions(ctx context.Context, filter Filter) ([]model.ResolutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgResolutionColumns+` FROM provider_resolutions
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR tier = $2)
		 ORDER BY provider_id LIMIT $3 OFFSET $4`,
		string(filter.Status), string(filter.Tier), listLimit(filter), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions")
	}
	var out []model.ResolutionRecord
	for rows.Next() {
		rec, err := scanPgResolution(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		out = append(out, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions iterate")
	}

	for i := range out {
		if err := s.loadChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ResolvedIDs implements Store.
func (s *PostgresStore) ResolvedIDs(ctx context.Context) (map[string]model.Outcome, error) {
	rows, err := s.pool.Query(ctx, `SELECT provider_id, outcome FROM provider_resolutions`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolved ids")
	}
	defer rows.Close()

	out := make(map[string]model.Outcome)
	for rows.Next() {
		var id, outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolved id")
		}
		out[id] = model.Outcome(outcome)
	}
	return out, eris.Wrap(rows.Err(), "postgres: resolved ids iterate")
}

func (s *PostgresStore) loadChildren(ctx context.Context, rec *model.ResolutionRecord) error {
	rows, err := s.pool.Query(ctx, `
		SELECT pass, geo_precision, query_text, backend, outcome, quality, match_quality,
			latitude, longitude, error, attempted_at
		FROM resolution_attempts WHERE provider_id = $1 ORDER BY seq`, rec.ProviderID)
	if err != nil {
		return eris.Wrapf(err, "postgres: load attempts %s", rec.ProviderID)
	}
	for rows.Next() {
		var a model.Attempt
		var precision, outcome string
		if err := rows.Scan(&a.Pass, &precision, &a.Query, &a.Backend, &outcome, &a.Quality,
			&a.MatchQuality, &a.Latitude, &a.Longitude, &a.Error, &a.At); err != nil {
			rows.Close()
			return eris.Wrap(err, "postgres: scan attempt")
		}
		a.Precision = geocode.Precision(precision)
		a.Outcome = model.AttemptOutcome(outcome)
		rec.Attempts = append(rec.Attempts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: load attempts iterate")
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, kind, prior, created_at FROM resolution_audit
		WHERE provider_id = $1 ORDER BY created_at, id`, rec.ProviderID)
	if err != nil {
		return eris.Wrapf(err, "postgres: load audit %s", rec.ProviderID)
	}
	defer rows.Close()
	for rows.Next() {
		var note model.AuditNote
		var prior []byte
		if err := rows.Scan(&note.ID, &note.Kind, &prior, &note.CreatedAt); err != nil {
			return eris.Wrap(err, "postgres: scan audit note")
		}
		if err := json.Unmarshal(prior, &note.Prior); err != nil {
			return eris.Wrap(err, "postgres: unmarshal audit note")
		}
		rec.Audit = append(rec.Audit, note)
	}
	return eris.Wrap(rows.Err(), "postgres: load audit iterate")
}

// GetGeocode implements geocode.Cache.
func (s *PostgresStore) GetGeocode(ctx context.Context, key string, maxAge time.Duration) (*geocode.Result, bool, error) {
	var data []byte
	var cachedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT result, cached_at FROM geocode_cache WHERE cache_key = $1`, key,
	).Scan(&data, &cachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get geocode cache")
	}
	if maxAge > 0 && time.Since(cachedAt) > maxAge {
		return nil, false, nil
	}

	var r geocode.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, eris.Wrap(err, "postgres: unmarshal geocode cache")
	}
	return &r, true, nil
}

// PutGeocode implements geocode.Cache.
func (s *PostgresStore) PutGeocode(ctx context.Context, key string, r *geocode.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal geocode result")
	}
	_, err = s.pool.Exec(ctx, putGeocodeSQL, key, data, time.Now().UTC())
	return eris.Wrap(err, "postgres: put geocode cache")
}

func scanPgResolution(row pgx.Row) (*model.ResolutionRecord, error) {
	var (
		rec                              model.ResolutionRecord
		tier, precision, status, outcome string
	)
	err := row.Scan(&rec.ProviderID, &rec.Address, &rec.Latitude, &rec.Longitude, &tier, &rec.Source,
		&precision, &rec.Quality, &rec.MatchQuality, &rec.ResolvedAt, &rec.IsPhysical, &status,
		&outcome, &rec.Note, &rec.RunID)
	if err != nil {
		return nil, err
	}
	rec.Tier = model.Tier(tier)
	rec.Precision = geocode.Precision(precision)
	rec.Status = model.ReviewStatus(status)
	rec.Outcome = model.Outcome(outcome)
	return &rec, nil
}
