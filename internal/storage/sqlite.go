package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "editrelay/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the persistence API used by the intake and webhook paths.
//
// GetRequest reports absence via ok=false, never via an error; an error means
// the storage medium itself failed.
type Store interface {
	PutRequest(ctx context.Context, rec RequestRecord) error
	GetRequest(ctx context.Context, cardID string) (rec RequestRecord, ok bool, err error)
	Close() error
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite-backed store, creating the database file and
// schema on first use.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutRequest(ctx context.Context, rec RequestRecord) error {
	if strings.TrimSpace(rec.CardID) == "" {
		return errors.New("card id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(card_id, user_id, chat_id, title, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(card_id) DO UPDATE SET
		   user_id=excluded.user_id, chat_id=excluded.chat_id, title=excluded.title`,
		rec.CardID, rec.UserID, nullInt64(rec.ChatID), rec.Title, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put request %s: %w", rec.CardID, err)
	}
	return nil
}

func (s *sqliteStore) GetRequest(ctx context.Context, cardID string) (RequestRecord, bool, error) {
	var (
		rec    RequestRecord
		chatID sql.NullInt64
		at     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT card_id, user_id, chat_id, title, created_at FROM requests WHERE card_id = ?`,
		cardID,
	).Scan(&rec.CardID, &rec.UserID, &chatID, &rec.Title, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return RequestRecord{}, false, nil
	}
	if err != nil {
		return RequestRecord{}, false, fmt.Errorf("get request %s: %w", cardID, err)
	}
	if chatID.Valid {
		rec.ChatID = chatID.Int64
	}
	if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
		rec.CreatedAt = t
	}
	return rec, true, nil
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
