// Package storage persists Workflow/Stage state, OAuth user identities,
// and encrypted provider tokens to a single-node SQLite file.
// modernc.org/sqlite is used rather than mattn/go-sqlite3 because the
// engine's worker pool writes from multiple goroutines concurrently: the
// cgo driver's fork+mmap interaction has a known corruption history under
// that access pattern, and the pure-Go driver sidesteps it entirely.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rodmena-limited/trust5/internal/auth"
	"github.com/rodmena-limited/trust5/internal/workflow"
)

// SQLiteStore implements workflow.Store and auth.UserStore against a
// single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates/migrates the database at path and returns a ready store.
// PRAGMA synchronous=FULL trades write throughput for durability against
// a host crash mid-write — acceptable here since a workflow's stage count
// is small and writes are infrequent relative to LLM call latency.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=FULL`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER,
			ended_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS stages (
			workflow_id TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			context_json TEXT NOT NULL,
			outputs_json TEXT,
			requisites_json TEXT NOT NULL,
			PRIMARY KEY (workflow_id, ref_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT,
			name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_identities (
			provider TEXT NOT NULL,
			subject TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (provider, subject)
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			provider TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL,
			nonce BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveWorkflow upserts w's top-level row.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, ended_at=excluded.ended_at
	`, w.ID, w.Name, string(w.Status), w.StartedAt.Unix(), nullableUnix(w.EndedAt))
	return err
}

// SaveStage upserts a single stage's persisted fields.
func (s *SQLiteStore) SaveStage(ctx context.Context, workflowID string, st *workflow.Stage) error {
	contextJSON, err := json.Marshal(st.Context)
	if err != nil {
		return err
	}
	outputsJSON, err := json.Marshal(st.Outputs)
	if err != nil {
		return err
	}
	reqs := make([]string, 0, len(st.Requisites))
	for ref := range st.Requisites {
		reqs = append(reqs, ref)
	}
	reqsJSON, err := json.Marshal(reqs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stages (workflow_id, ref_id, type, name, status, context_json, outputs_json, requisites_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, ref_id) DO UPDATE SET
			status=excluded.status, context_json=excluded.context_json, outputs_json=excluded.outputs_json
	`, workflowID, st.RefID, st.Type, st.Name, string(st.Status), string(contextJSON), string(outputsJSON), string(reqsJSON))
	return err
}

// LoadWorkflow reconstructs a Workflow and its stages for crash recovery.
func (s *SQLiteStore) LoadWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, status FROM workflows WHERE id = ?`, id)
	var name, status string
	if err := row.Scan(&name, &status); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ref_id, type, name, status, context_json, outputs_json, requisites_json
		FROM stages WHERE workflow_id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*workflow.Stage
	for rows.Next() {
		var refID, sType, sName, sStatus, contextJSON, outputsJSON, reqsJSON string
		if err := rows.Scan(&refID, &sType, &sName, &sStatus, &contextJSON, &outputsJSON, &reqsJSON); err != nil {
			return nil, err
		}
		var ctxMap workflow.Context
		if err := json.Unmarshal([]byte(contextJSON), &ctxMap); err != nil {
			return nil, err
		}
		var outputs map[string]any
		_ = json.Unmarshal([]byte(outputsJSON), &outputs)
		var reqList []string
		if err := json.Unmarshal([]byte(reqsJSON), &reqList); err != nil {
			return nil, err
		}
		reqSet := make(map[string]bool, len(reqList))
		for _, r := range reqList {
			reqSet[r] = true
		}
		stages = append(stages, &workflow.Stage{
			RefID: refID, Type: sType, Name: sName, Status: workflow.Status(sStatus),
			Context: ctxMap, Outputs: outputs, Requisites: reqSet,
		})
	}

	w := workflow.NewWorkflow(id, name, stages)
	w.Status = workflow.Status(status)
	return w, nil
}

// ListResumable returns the IDs of every workflow not in a success state,
// for the recovery scan at process startup.
func (s *SQLiteStore) ListResumable(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workflows WHERE status != ? ORDER BY started_at DESC`, string(workflow.StatusSucceeded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FindOrCreate implements auth.UserStore: it looks up a user by
// (provider, subject), creating both the oauth_identities row and the
// user row on first login.
func (s *SQLiteStore) FindOrCreate(ctx context.Context, info *auth.UserInfo) (*auth.User, error) {
	var userID string
	row := s.db.QueryRowContext(ctx, `SELECT user_id FROM oauth_identities WHERE provider = ? AND subject = ?`, info.Provider, info.ID)
	err := row.Scan(&userID)

	switch {
	case err == sql.ErrNoRows:
		userID = info.Provider + ":" + info.ID
		if _, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, name) VALUES (?, ?, ?)`, userID, info.Email, info.Name); err != nil {
			return nil, err
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO oauth_identities (provider, subject, user_id) VALUES (?, ?, ?)`, info.Provider, info.ID, userID); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	return &auth.User{ID: userID, Email: info.Email, Name: info.Name}, nil
}

// Get implements auth.UserStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, name FROM users WHERE id = ?`, id)
	u := &auth.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Name); err != nil {
		return nil, err
	}
	return u, nil
}

func nullableUnix(t interface{ Unix() int64 }) any {
	if t.Unix() <= 0 {
		return nil
	}
	return t.Unix()
}
