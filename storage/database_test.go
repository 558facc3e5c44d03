package storage

import (
	"path/filepath"
	"testing"

	"godrop/models"
)

func TestOpenCreatesDatabaseFile(t *testing.T) {
	dataDir := t.TempDir()

	store, dbPath, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if dbPath != filepath.Join(dataDir, DefaultDBFileName) {
		t.Fatalf("unexpected database path %q", dbPath)
	}
}

func TestReopenPreservesDataAndSkipsMigrations(t *testing.T) {
	dataDir := t.TempDir()

	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := store.SaveFileRecord(models.FileRecord{
		FileID:     "ab12cd34",
		Filename:   "keep.txt",
		Filesize:   10,
		StoredPath: "/tmp/keep.txt",
		Direction:  models.DirectionReceive,
	}); err != nil {
		t.Fatalf("SaveFileRecord failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetFileByID("ab12cd34")
	if err != nil {
		t.Fatalf("GetFileByID after reopen failed: %v", err)
	}
	if got.Filename != "keep.txt" {
		t.Fatalf("unexpected record after reopen: %+v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
