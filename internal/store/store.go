package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/pavelanni/onimate/internal/model"

	_ "modernc.org/sqlite"
)

const (
	snapshotKey         = "user"
	defaultHistoryLimit = 500
)

var sqlBuilder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// Store is the SQLite snapshot backend. Besides the current document it
// keeps an append-only history of previous saves.
type Store struct {
	db           *sql.DB
	historyLimit int
	now          func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, historyLimit: defaultHistoryLimit, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshot_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc TEXT NOT NULL,
		total_exp INTEGER NOT NULL DEFAULT 0,
		saved_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.SetMetadata(context.Background(), metaSchemaVersion, schemaVersion)
}

// Load returns the current document.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	query, args, err := sqlBuilder.Select("doc").From("snapshots").Where(squirrel.Eq{"key": snapshotKey}).ToSql()
	if err != nil {
		return nil, err
	}
	var doc string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return []byte(doc), nil
}

// Save replaces the current document and archives it in the history table.
func (s *Store) Save(ctx context.Context, doc []byte) error {
	now := s.now().UTC()

	var head struct {
		TotalExp int64 `json:"totalExp"`
	}
	_ = json.Unmarshal(doc, &head)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := sqlBuilder.Insert("snapshots").
		Columns("key", "doc", "updated_at").
		Values(snapshotKey, string(doc), now).
		Suffix("ON CONFLICT(key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at")
	if _, err := upsert.RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	archive := sqlBuilder.Insert("snapshot_history").
		Columns("doc", "total_exp", "saved_at").
		Values(string(doc), head.TotalExp, now)
	res, err := archive.RunWith(tx).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}

	if s.historyLimit > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		prune := sqlBuilder.Delete("snapshot_history").Where(squirrel.LtOrEq{"id": id - int64(s.historyLimit)})
		if _, err := prune.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
	}

	return tx.Commit()
}

// History returns up to limit archived snapshots, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]model.SnapshotVersion, error) {
	q := sqlBuilder.Select("id", "saved_at", "total_exp", "length(doc)").
		From("snapshot_history").
		OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SnapshotVersion
	for rows.Next() {
		var v model.SnapshotVersion
		if err := rows.Scan(&v.ID, &v.SavedAt, &v.TotalExp, &v.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Version returns the archived document with the given history ID.
func (s *Store) Version(ctx context.Context, id int64) ([]byte, error) {
	var doc string
	err := sqlBuilder.Select("doc").From("snapshot_history").Where(squirrel.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
