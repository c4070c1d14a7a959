package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

const (
	downloadsBucket = "downloads"
	urlsBucket      = "urls"
)

var ErrDownloadNotFound = errors.New("download not found")

// Status is the outcome of an archived download.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Entry is one archived download run.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	URL        string    `json:"url"`
	Output     string    `json:"output"`
	Status     Status    `json:"status"`
	Downloader string    `json:"downloader"`
	Fragments  int       `json:"fragments"`
	Skipped    int       `json:"skipped"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// BoltDBRepository archives download runs in BoltDB, indexed by id and by
// playlist URL.
type BoltDBRepository struct {
	db *bolt.DB
}

// NewBoltDBRepository opens or creates the archive at dbPath.
func NewBoltDBRepository(dbPath string) (*BoltDBRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket)); err != nil {
			return fmt.Errorf("failed to create downloads bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(urlsBucket)); err != nil {
			return fmt.Errorf("failed to create urls bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDBRepository{
		db: db,
	}, nil
}

// Save persists an entry and points its URL at it.
func (r *BoltDBRepository) Save(e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		if err := tx.Bucket([]byte(downloadsBucket)).Put([]byte(e.ID.String()), data); err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}

		if err := tx.Bucket([]byte(urlsBucket)).Put([]byte(e.URL), []byte(e.ID.String())); err != nil {
			return fmt.Errorf("failed to index entry: %w", err)
		}

		return nil
	})
}

// Find retrieves an entry by ID.
func (r *BoltDBRepository) Find(id uuid.UUID) (*Entry, error) {
	var entry *Entry

	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		entry, err = find(tx, id.String())
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// FindByURL retrieves the latest entry saved for url.
func (r *BoltDBRepository) FindByURL(url string) (*Entry, error) {
	var entry *Entry

	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(urlsBucket)).Get([]byte(url))
		if id == nil {
			return ErrDownloadNotFound
		}

		var err error
		entry, err = find(tx, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Completed reports whether url has a completed entry.
func (r *BoltDBRepository) Completed(url string) bool {
	e, err := r.FindByURL(url)
	return err == nil && e.Status == StatusCompleted
}

// FindAll retrieves all entries.
func (r *BoltDBRepository) FindAll() ([]*Entry, error) {
	var entries []*Entry

	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}
			entries = append(entries, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Delete removes an entry and its URL index if the index still points at it.
func (r *BoltDBRepository) Delete(id uuid.UUID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		e, err := find(tx, id.String())
		if err != nil {
			return err
		}

		urls := tx.Bucket([]byte(urlsBucket))
		if string(urls.Get([]byte(e.URL))) == id.String() {
			if err := urls.Delete([]byte(e.URL)); err != nil {
				return err
			}
		}

		return tx.Bucket([]byte(downloadsBucket)).Delete([]byte(id.String()))
	})
}

// Close closes the database
func (r *BoltDBRepository) Close() error {
	return r.db.Close()
}

func find(tx *bolt.Tx, id string) (*Entry, error) {
	data := tx.Bucket([]byte(downloadsBucket)).Get([]byte(id))
	if data == nil {
		return nil, ErrDownloadNotFound
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &e, nil
}
