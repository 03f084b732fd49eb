package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/pkg/geocode"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "provider-geocoder.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; the pragmas below then hold for every statement.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS resolutions (
	provider_id   TEXT PRIMARY KEY,
	address       TEXT NOT NULL DEFAULT '',
	latitude      REAL,
	longitude     REAL,
	tier          TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	geo_precision TEXT NOT NULL DEFAULT '',
	quality       TEXT NOT NULL DEFAULT '',
	match_quality TEXT NOT NULL DEFAULT '',
	resolved_at   DATETIME NOT NULL,
	is_physical   INTEGER NOT NULL,
	status        TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	note          TEXT NOT NULL DEFAULT '',
	run_id        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS resolution_attempts (
	provider_id   TEXT NOT NULL REFERENCES resolutions(provider_id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	pass          INTEGER NOT NULL,
	geo_precision TEXT NOT NULL,
	query_text    TEXT NOT NULL DEFAULT '',
	backend       TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL,
	quality       TEXT NOT NULL DEFAULT '',
	match_quality TEXT NOT NULL DEFAULT '',
	latitude      REAL NOT NULL DEFAULT 0,
	longitude     REAL NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	attempted_at  DATETIME NOT NULL,
	PRIMARY KEY (provider_id, seq)
);

CREATE TABLE IF NOT EXISTS resolution_audit (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES resolutions(provider_id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	prior       TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	cache_key TEXT PRIMARY KEY,
	result    TEXT NOT NULL,
	cached_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_status ON resolutions(status);
CREATE INDEX IF NOT EXISTS idx_resolutions_tier ON resolutions(tier);
CREATE INDEX IF NOT EXISTS idx_resolution_audit_provider ON resolution_audit(provider_id, created_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResolution implements Store.
func (s *SQLiteStore) SaveResolution(ctx context.Context, rec model.ResolutionRecord) error {
	return s.save(ctx, rec, "")
}

// SaveCorrection implements Store.
func (s *SQLiteStore) SaveCorrection(ctx context.Context, rec model.ResolutionRecord) error {
	return s.save(ctx, rec, ` WHERE resolutions.status <> '`+string(model.StatusManuallyCorrected)+`'`)
}

// save upserts rec. A non-empty guard is appended to the DO UPDATE clause;
// when it filters out the stored row nothing is written and ErrCorrected is
// returned.
func (s *SQLiteStore) save(ctx context.Context, rec model.ResolutionRecord, guard string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO resolutions (provider_id, address, latitude, longitude, tier, source, geo_precision, quality,
			match_quality, resolved_at, is_physical, status, outcome, note, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id) DO UPDATE SET
			address = excluded.address, latitude = excluded.latitude, longitude = excluded.longitude,
			tier = excluded.tier, source = excluded.source, geo_precision = excluded.geo_precision,
			quality = excluded.quality, match_quality = excluded.match_quality,
			resolved_at = excluded.resolved_at, is_physical = excluded.is_physical,
			status = excluded.status, outcome = excluded.outcome, note = excluded.note,
			run_id = excluded.run_id`+guard,
		rec.ProviderID, rec.Address, nullFloat(rec.Latitude), nullFloat(rec.Longitude),
		string(rec.Tier), rec.Source, string(rec.Precision), rec.Quality, rec.MatchQuality,
		rec.ResolvedAt.UTC(), rec.IsPhysical, string(rec.Status), string(rec.Outcome), rec.Note, rec.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert resolution %s", rec.ProviderID)
	}
	if guard != "" {
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert resolution %s", rec.ProviderID)
		}
		if n == 0 {
			return eris.Wrapf(ErrCorrected, "provider %s", rec.ProviderID)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM resolution_attempts WHERE provider_id = ?`, rec.ProviderID); err != nil {
		return eris.Wrapf(err, "sqlite: clear attempts %s", rec.ProviderID)
	}
	for i, a := range rec.Attempts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resolution_attempts (provider_id, seq, pass, geo_precision, query_text, backend, outcome,
				quality, match_quality, latitude, longitude, error, attempted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ProviderID, i, a.Pass, string(a.Precision), a.Query, a.Backend, string(a.Outcome),
			a.Quality, a.MatchQuality, a.Latitude, a.Longitude, a.Error, a.At.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert attempt %s/%d", rec.ProviderID, i)
		}
	}

	for _, note := range rec.Audit {
		prior, err := json.Marshal(note.Prior)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit note")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO resolution_audit (id, provider_id, kind, prior, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			note.ID, rec.ProviderID, note.Kind, string(prior), note.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert audit note %s", note.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit resolution")
}

const resolutionColumns = `provider_id, address, latitude, longitude, tier, source, geo_precision, quality,
	match_quality, resolved_at, is_physical, status, outcome, note, run_id`

// GetResolution implements Store.
func (s *SQLiteStore) GetResolution(ctx context.Context, providerID string) (*model.ResolutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resolutionColumns+` FROM resolutions WHERE provider_id = ?`, providerID)
	rec, err := scanResolution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "provider %s", providerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get resolution %s", providerID)
	}
	if err := s.loadChildren(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListResolutions implements Store. Records are ordered by provider id.
func (s *SQLiteStore) ListResolutions(ctx context.Context, filter Filter) ([]model.ResolutionRecord, error) {
	query := `SELECT ` + resolutionColumns + ` FROM resolutions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	query += ` ORDER BY provider_id LIMIT ?`
	args = append(args, listLimit(filter))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolutions")
	}
	var out []model.ResolutionRecord
	for rows.Next() {
		rec, err := scanResolution(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan resolution")
		}
		out = append(out, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolutions iterate")
	}

	for i := range out {
		if err := s.loadChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ResolvedIDs implements Store.
func (s *SQLiteStore) ResolvedIDs(ctx context.Context) (map[string]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider_id, outcome FROM resolutions`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolved ids")
	}
	defer rows.Close()

	out := make(map[string]model.Outcome)
	for rows.Next() {
		var id, outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolved id")
		}
		out[id] = model.Outcome(outcome)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: resolved ids iterate")
}

func (s *SQLiteStore) loadChildren(ctx context.Context, rec *model.ResolutionRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass, geo_precision, query_text, backend, outcome, quality, match_quality, latitude, longitude, error, attempted_at
		FROM resolution_attempts WHERE provider_id = ? ORDER BY seq`, rec.ProviderID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load attempts %s", rec.ProviderID)
	}
	for rows.Next() {
		var a model.Attempt
		var precision, outcome string
		if err := rows.Scan(&a.Pass, &precision, &a.Query, &a.Backend, &outcome, &a.Quality,
			&a.MatchQuality, &a.Latitude, &a.Longitude, &a.Error, &a.At); err != nil {
			rows.Close()
			return eris.Wrap(err, "sqlite: scan attempt")
		}
		a.Precision = geocode.Precision(precision)
		a.Outcome = model.AttemptOutcome(outcome)
		rec.Attempts = append(rec.Attempts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: load attempts iterate")
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, kind, prior, created_at FROM resolution_audit
		WHERE provider_id = ? ORDER BY created_at, id`, rec.ProviderID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load audit %s", rec.ProviderID)
	}
	defer rows.Close()
	for rows.Next() {
		var note model.AuditNote
		var prior string
		if err := rows.Scan(&note.ID, &note.Kind, &prior, &note.CreatedAt); err != nil {
			return eris.Wrap(err, "sqlite: scan audit note")
		}
		if err := json.Unmarshal([]byte(prior), &note.Prior); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal audit note")
		}
		rec.Audit = append(rec.Audit, note)
	}
	return eris.Wrap(rows.Err(), "sqlite: load audit iterate")
}

// GetGeocode implements geocode.Cache.
func (s *SQLiteStore) GetGeocode(ctx context.Context, key string, maxAge time.Duration) (*geocode.Result, bool, error) {
	var data string
	var cachedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT result, cached_at FROM geocode_cache WHERE cache_key = ?`, key,
	).Scan(&data, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get geocode cache")
	}
	if maxAge > 0 && time.Since(cachedAt) > maxAge {
		return nil, false, nil
	}

	var r geocode.Result
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: unmarshal geocode cache")
	}
	return &r, true, nil
}

// PutGeocode implements geocode.Cache.
func (s *SQLiteStore) PutGeocode(ctx context.Context, key string, r *geocode.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal geocode result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (cache_key, result, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET result = excluded.result, cached_at = excluded.cached_at`,
		key, string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put geocode cache")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResolution(row scannable) (*model.ResolutionRecord, error) {
	var (
		rec                              model.ResolutionRecord
		lat, lon                         sql.NullFloat64
		tier, precision, status, outcome string
	)
	err := row.Scan(&rec.ProviderID, &rec.Address, &lat, &lon, &tier, &rec.Source, &precision,
		&rec.Quality, &rec.MatchQuality, &rec.ResolvedAt, &rec.IsPhysical, &status, &outcome,
		&rec.Note, &rec.RunID)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		rec.Latitude = model.Float(lat.Float64)
		rec.Longitude = model.Float(lon.Float64)
	}
	rec.Tier = model.Tier(tier)
	rec.Precision = geocode.Precision(precision)
	rec.Status = model.ReviewStatus(status)
	rec.Outcome = model.Outcome(outcome)
	return &rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
