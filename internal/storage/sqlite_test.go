package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/vidrag/internal/catalog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestVectorTablesExist(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"videos", TextVectorsTable, ImageVectorsTable} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %q not found", table)
		}
	}
}

func TestSaveAndGetVideo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := catalog.Video{
		ID:         "EDj-Xo8AlSU",
		SourceURL:  "https://www.youtube.com/watch?v=EDj-Xo8AlSU",
		Title:      "Talk",
		Author:     "someone",
		Views:      42,
		Length:     612.5,
		Frames:     307,
		Segments:   21,
		ImportedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveVideo(ctx, want); err != nil {
		t.Fatalf("SaveVideo: %v", err)
	}

	got, err := s.GetVideo(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if got.Title != want.Title || got.Views != want.Views || got.Frames != want.Frames || got.Length != want.Length {
		t.Errorf("GetVideo = %+v, want %+v", got, want)
	}
	if !got.ImportedAt.Equal(want.ImportedAt) {
		t.Errorf("ImportedAt = %v, want %v", got.ImportedAt, want.ImportedAt)
	}

	want.Title = "Talk (re-import)"
	if err := s.SaveVideo(ctx, want); err != nil {
		t.Fatalf("SaveVideo again: %v", err)
	}
	list, err := s.ListVideos(ctx)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Talk (re-import)" {
		t.Errorf("ListVideos = %+v, want one updated entry", list)
	}
}

func TestDeleteVideo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveVideo(ctx, catalog.Video{ID: "v1", SourceURL: "u"}); err != nil {
		t.Fatalf("SaveVideo: %v", err)
	}
	if err := s.DeleteVideo(ctx, "v1"); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}
	if _, err := s.GetVideo(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVideo after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteVideo(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteVideo error = %v, want ErrNotFound", err)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_initial.sql", 1, false},
		{"012_add_index.sql", 12, false},
		{"initial.sql", 0, true},
		{"abc_initial.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMigrationVersion(tt.name)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseMigrationVersion(%q) = %d, %v", tt.name, got, err)
		}
	}
}
