package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/vidrag/internal/catalog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ catalog.Catalog = (*Store)(nil)

// Store wraps the SQLite database holding the video catalog and, when the
// sqlite vector backend is selected, the text and image vector tables.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) dataDir/vidrag.db and applies pending migrations.
// ":memory:" gives a private in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:?_pragma=busy_timeout(5000)"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = "file:" + filepath.Join(dataDir, "vidrag.db") +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; also keeps :memory: to a single database.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for the vector tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations/NNN_name.sql files in version order,
// each in its own transaction, skipping versions already recorded.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	slices.Sort(files)

	for _, file := range files {
		version, err := parseMigrationVersion(path.Base(file))
		if err != nil {
			return err
		}
		if slices.Contains(applied, version) {
			continue
		}
		body, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", file, err)
		}
		if err := s.applyMigration(ctx, version, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int, body string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning migration %d: %w", version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

// parseMigrationVersion reads the numeric prefix of "001_initial.sql".
func parseMigrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %q lacks a NNN_ version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", name, err)
	}
	return v, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Video catalog ---

func (s *Store) SaveVideo(ctx context.Context, v catalog.Video) error {
	importedAt := v.ImportedAt
	if importedAt.IsZero() {
		importedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (video_id, source_url, title, author, views, length_s, frames, segments, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			source_url = excluded.source_url,
			title = excluded.title,
			author = excluded.author,
			views = excluded.views,
			length_s = excluded.length_s,
			frames = excluded.frames,
			segments = excluded.segments,
			imported_at = excluded.imported_at`,
		v.ID, v.SourceURL, v.Title, v.Author, v.Views, v.Length, v.Frames, v.Segments,
		importedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetVideo(ctx context.Context, id string) (catalog.Video, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT video_id, source_url, title, author, views, length_s, frames, segments, imported_at
		FROM videos WHERE video_id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Video{}, ErrNotFound
	}
	return v, err
}

func (s *Store) ListVideos(ctx context.Context) ([]catalog.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, source_url, title, author, views, length_s, frames, segments, imported_at
		FROM videos ORDER BY imported_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []catalog.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE video_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(r rowScanner) (catalog.Video, error) {
	var v catalog.Video
	var importedAt string
	if err := r.Scan(&v.ID, &v.SourceURL, &v.Title, &v.Author, &v.Views, &v.Length, &v.Frames, &v.Segments, &importedAt); err != nil {
		return catalog.Video{}, err
	}
	t, err := time.Parse(time.RFC3339, importedAt)
	if err != nil {
		return catalog.Video{}, fmt.Errorf("parsing imported_at: %w", err)
	}
	v.ImportedAt = t
	return v, nil
}
