package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pepe/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore writes every turn immediately; Save is a no-op.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	max int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("memory.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, max: cfg.limit()}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("memory opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Add(ctx context.Context, conversationID string, t Turn) error {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	var meta any
	if len(t.Meta) > 0 {
		b, err := json.Marshal(t.Meta)
		if err != nil {
			return err
		}
		meta = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns(conversation, role, content, at, meta) VALUES(?,?,?,?,?)`,
		conversationID, t.Role, t.Content, t.At.UTC().Format(time.RFC3339Nano), meta,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE conversation = ? AND id NOT IN (
		   SELECT id FROM turns WHERE conversation = ? ORDER BY id DESC LIMIT ?)`,
		conversationID, conversationID, s.max,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) History(ctx context.Context, conversationID string, lastN int) ([]Turn, error) {
	if lastN <= 0 || lastN > s.max {
		lastN = s.max
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, at, meta FROM turns WHERE conversation = ? ORDER BY id DESC LIMIT ?`,
		conversationID, lastN,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t    Turn
			at   string
			meta sql.NullString
		)
		if err := rows.Scan(&t.Role, &t.Content, &at, &meta); err != nil {
			return nil, err
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &t.Meta); err != nil {
				s.log.Debug("memory meta decode failed", logx.Err(err))
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *sqliteStore) Clear(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE conversation = ?`, conversationID)
	return err
}

func (s *sqliteStore) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT conversation FROM turns ORDER BY conversation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context) error { return nil }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
