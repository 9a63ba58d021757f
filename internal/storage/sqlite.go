//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveModel(ctx context.Context, record model.ModelRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeModel(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO models (id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.ID, record.CreatedAt.UnixNano(), record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (model.ModelRecord, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM models WHERE id = ?`, id)
	if err != nil || !ok {
		return model.ModelRecord{}, false, err
	}
	record, err := DecodeModel(payload)
	if err != nil {
		return model.ModelRecord{}, false, fmt.Errorf("decode model %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListModels(ctx context.Context) ([]model.ModelRecord, error) {
	payloads, err := s.payloads(ctx, `SELECT payload FROM models ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	out := make([]model.ModelRecord, 0, len(payloads))
	for _, payload := range payloads {
		record, err := DecodeModel(payload)
		if err != nil {
			return nil, fmt.Errorf("decode model: %w", err)
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *SQLiteStore) SaveNormDict(ctx context.Context, nd model.NormDict) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeNormDict(nd)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO norm_dicts (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, nd.ID, nd.SchemaVersion, nd.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetNormDict(ctx context.Context, id string) (model.NormDict, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM norm_dicts WHERE id = ?`, id)
	if err != nil || !ok {
		return model.NormDict{}, false, err
	}
	nd, err := DecodeNormDict(payload)
	if err != nil {
		return model.NormDict{}, false, fmt.Errorf("decode norm dict %s: %w", id, err)
	}
	return nd, true, nil
}

func (s *SQLiteStore) SaveEvaluation(ctx context.Context, record model.EvaluationRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeEvaluation(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO evaluations (run_id, model_id, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			model_id = excluded.model_id,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, record.RunID, record.ModelID, record.CreatedAt.UnixNano(), payload)
	return err
}

func (s *SQLiteStore) GetEvaluation(ctx context.Context, runID string) (model.EvaluationRecord, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM evaluations WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return model.EvaluationRecord{}, false, err
	}
	record, err := DecodeEvaluation(payload)
	if err != nil {
		return model.EvaluationRecord{}, false, fmt.Errorf("decode evaluation %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListEvaluations(ctx context.Context, modelID string) ([]model.EvaluationRecord, error) {
	query := `SELECT payload FROM evaluations ORDER BY created_at, run_id`
	var args []any
	if modelID != "" {
		query = `SELECT payload FROM evaluations WHERE model_id = ? ORDER BY created_at, run_id`
		args = append(args, modelID)
	}
	payloads, err := s.payloads(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]model.EvaluationRecord, 0, len(payloads))
	for _, payload := range payloads {
		record, err := DecodeEvaluation(payload)
		if err != nil {
			return nil, fmt.Errorf("decode evaluation: %w", err)
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func (s *SQLiteStore) payload(ctx context.Context, query string, args ...any) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) payloads(ctx context.Context, query string, args ...any) ([][]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS norm_dicts (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS evaluations (
			run_id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS evaluations_model ON evaluations (model_id, created_at);
	`)
	return err
}
