package repository_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/NamanBalaji/hlsdl/internal/repository"
	"github.com/google/uuid"
)

func newTestRepository(t *testing.T) *repository.BoltDBRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "archive.db")
	repo, err := repository.NewBoltDBRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repo
}

func TestNewBoltDBRepository(t *testing.T) {
	repo := newTestRepository(t)
	defer repo.Close()

	if repo == nil {
		t.Fatal("expected a valid repository, got nil")
	}
}

func TestSaveAndFindEntry(t *testing.T) {
	repo := newTestRepository(t)
	defer repo.Close()

	entry := &repository.Entry{
		URL:        "http://example.com/a.m3u8",
		Output:     "/tmp/a.ts",
		Status:     repository.StatusCompleted,
		Fragments:  12,
		Bytes:      4096,
		StartedAt:  time.Now().Add(-time.Minute).UTC(),
		FinishedAt: time.Now().UTC(),
	}

	if err := repo.Save(entry); err != nil {
		t.Fatalf("failed to save entry: %v", err)
	}
	if entry.ID == uuid.Nil {
		t.Fatal("expected Save to assign an ID")
	}

	found, err := repo.Find(entry.ID)
	if err != nil {
		t.Fatalf("failed to find entry: %v", err)
	}

	if found.URL != entry.URL || found.Fragments != 12 || found.Bytes != 4096 {
		t.Errorf("unexpected entry: %+v", found)
	}
	if !found.FinishedAt.Equal(entry.FinishedAt) {
		t.Errorf("expected FinishedAt %v, got %v", entry.FinishedAt, found.FinishedAt)
	}
}

func TestFindByURLReturnsLatest(t *testing.T) {
	repo := newTestRepository(t)
	defer repo.Close()

	url := "http://example.com/live.m3u8"
	failed := &repository.Entry{URL: url, Status: repository.StatusFailed, Error: "boom"}
	done := &repository.Entry{URL: url, Status: repository.StatusCompleted}

	if err := repo.Save(failed); err != nil {
		t.Fatal(err)
	}
	if repo.Completed(url) {
		t.Error("failed entry must not count as completed")
	}

	if err := repo.Save(done); err != nil {
		t.Fatal(err)
	}

	found, err := repo.FindByURL(url)
	if err != nil {
		t.Fatalf("failed to find by url: %v", err)
	}
	if found.ID != done.ID {
		t.Errorf("expected latest entry %v, got %v", done.ID, found.ID)
	}
	if !repo.Completed(url) {
		t.Error("expected url to be completed")
	}

	if _, err := repo.FindByURL("http://example.com/other.m3u8"); !errors.Is(err, repository.ErrDownloadNotFound) {
		t.Errorf("expected ErrDownloadNotFound, got %v", err)
	}
}

func TestFindAllEntries(t *testing.T) {
	repo := newTestRepository(t)
	defer repo.Close()

	entries := []*repository.Entry{
		{ID: uuid.New(), URL: "http://example.com/1.m3u8"},
		{ID: uuid.New(), URL: "http://example.com/2.m3u8"},
		{ID: uuid.New(), URL: "http://example.com/3.m3u8"},
	}

	for _, e := range entries {
		if err := repo.Save(e); err != nil {
			t.Fatalf("failed to save entry with ID %v: %v", e.ID, err)
		}
	}

	found, err := repo.FindAll()
	if err != nil {
		t.Fatalf("failed to find all entries: %v", err)
	}

	if len(found) != len(entries) {
		t.Errorf("expected %d entries, found %d", len(entries), len(found))
	}

	idMap := make(map[uuid.UUID]bool)
	for _, e := range entries {
		idMap[e.ID] = true
	}
	for _, e := range found {
		if !idMap[e.ID] {
			t.Errorf("found unexpected entry with ID %v", e.ID)
		}
	}
}

func TestDeleteEntry(t *testing.T) {
	repo := newTestRepository(t)
	defer repo.Close()

	entry := &repository.Entry{URL: "http://example.com/a.m3u8", Status: repository.StatusCompleted}

	if err := repo.Save(entry); err != nil {
		t.Fatalf("failed to save entry: %v", err)
	}

	if err := repo.Delete(entry.ID); err != nil {
		t.Fatalf("failed to delete entry: %v", err)
	}

	if _, err := repo.Find(entry.ID); !errors.Is(err, repository.ErrDownloadNotFound) {
		t.Errorf("expected ErrDownloadNotFound, got: %v", err)
	}
	if repo.Completed(entry.URL) {
		t.Error("expected url index to be removed")
	}
	if err := repo.Delete(entry.ID); !errors.Is(err, repository.ErrDownloadNotFound) {
		t.Errorf("expected ErrDownloadNotFound on second delete, got: %v", err)
	}
}

func TestCloseRepository(t *testing.T) {
	repo := newTestRepository(t)

	if err := repo.Close(); err != nil {
		t.Errorf("failed to close repository: %v", err)
	}

	_, err := repo.Find(uuid.New())
	if err == nil {
		t.Error("expected an error after closing the repository, got nil")
	}
}
