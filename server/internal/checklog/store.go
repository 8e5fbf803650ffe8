package checklog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// configKey is the settings row holding the JSON check configuration.
const configKey = "stream_check_config"

const schema = `
CREATE TABLE IF NOT EXISTS stream_check_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_id      TEXT    NOT NULL,
	provider_name    TEXT    NOT NULL,
	app_type         TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	success          INTEGER NOT NULL,
	message          TEXT    NOT NULL,
	response_time_ms INTEGER,
	http_status      INTEGER,
	model_used       TEXT,
	retry_count      INTEGER,
	tested_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stream_check_logs_provider
	ON stream_check_logs (provider_id, app_type, tested_at DESC);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const selectColumns = `SELECT status, success, message, response_time_ms, http_status,
	model_used, retry_count, tested_at
	FROM stream_check_logs
	WHERE provider_id = ? AND app_type = ?
	ORDER BY tested_at DESC, id DESC
	LIMIT ?`

// Store is a SQLite-backed check log. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checklog: open %q: %w", path, err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checklog: apply schema: %w", err)
	}
	slog.Debug("checklog: opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveLog appends one check result and returns its row ID.
func (s *Store) SaveLog(ctx context.Context, providerID, providerName, appType string, r Result) (int64, error) {
	var respMs, httpStatus sql.NullInt64
	if r.ResponseTimeMs != nil {
		respMs = sql.NullInt64{Int64: int64(*r.ResponseTimeMs), Valid: true}
	}
	if r.HTTPStatus != nil {
		httpStatus = sql.NullInt64{Int64: int64(*r.HTTPStatus), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_check_logs
		 (provider_id, provider_name, app_type, status, success, message,
		  response_time_ms, http_status, model_used, retry_count, tested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		providerID, providerName, appType, r.Status.String(), r.Success, r.Message,
		respMs, httpStatus, r.ModelUsed, int64(r.RetryCount), r.TestedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("checklog: save log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("checklog: save log: %w", err)
	}
	return id, nil
}

// Latest returns the most recent result for providerID/appType, or nil when
// none has been recorded.
func (s *Store) Latest(ctx context.Context, providerID, appType string) (*Result, error) {
	results, err := s.query(ctx, providerID, appType, 1)
	if err != nil {
		return nil, fmt.Errorf("checklog: latest: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// History returns up to limit results for providerID/appType, newest first.
// A limit of zero or less returns no results.
func (s *Store) History(ctx context.Context, providerID, appType string, limit int) ([]Result, error) {
	if limit <= 0 {
		return []Result{}, nil
	}
	results, err := s.query(ctx, providerID, appType, limit)
	if err != nil {
		return nil, fmt.Errorf("checklog: history: %w", err)
	}
	return results, nil
}

func (s *Store) query(ctx context.Context, providerID, appType string, limit int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns, providerID, appType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Result, 0, limit)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanResult(rows *sql.Rows) (Result, error) {
	var (
		status     string
		r          Result
		respMs     sql.NullInt64
		httpStatus sql.NullInt64
		model      sql.NullString
		retries    sql.NullInt64
	)
	if err := rows.Scan(&status, &r.Success, &r.Message, &respMs, &httpStatus,
		&model, &retries, &r.TestedAt); err != nil {
		return Result{}, err
	}

	r.Status = ParseHealthStatus(status)
	if respMs.Valid {
		v := uint64(respMs.Int64)
		r.ResponseTimeMs = &v
	}
	if httpStatus.Valid {
		v := uint16(httpStatus.Int64)
		r.HTTPStatus = &v
	}
	r.ModelUsed = model.String
	r.RetryCount = uint32(retries.Int64)
	return r, nil
}

// Config returns the saved check configuration, or DefaultConfig when none
// has been saved.
func (s *Store) Config(ctx context.Context) (Config, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, configKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("checklog: read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("checklog: parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig validates and stores cfg, replacing any previous configuration.
func (s *Store) SaveConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("checklog: encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		configKey, string(raw))
	if err != nil {
		return fmt.Errorf("checklog: save config: %w", err)
	}
	return nil
}
