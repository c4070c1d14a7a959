package bookkeeping

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/NamanBalaji/hlsdl/internal/logger"
)

// Suffix is appended to the output path to name the sidecar file.
const Suffix = ".hlsdl"

// Version is the sidecar schema version written by this package.
const Version = 1

var (
	ErrCorrupt = errors.New("bookkeeping record is corrupt")
	ErrWrite   = errors.New("failed to write bookkeeping record")
)

// Record is the resumable progress of one download.
type Record struct {
	// FragmentIndex is the number of fragments already appended to the output.
	FragmentIndex int
	// FragmentCount is the expected number of fragments, zero when unknown.
	FragmentCount int
	ExtraState    map[string]json.RawMessage
}

type fileFormat struct {
	Version    *int             `json:"version,omitempty"`
	Downloader *downloaderState `json:"downloader"`
}

type downloaderState struct {
	CurrentFragment *currentFragment           `json:"current_fragment"`
	FragmentCount   int                        `json:"fragment_count,omitempty"`
	ExtraState      map[string]json.RawMessage `json:"extra_state,omitempty"`
}

type currentFragment struct {
	Index *int `json:"index"`
}

// Store reads and writes the sidecar for one output path. A disabled store
// never touches the disk.
type Store struct {
	path     string
	disabled bool
}

// NewStore returns a store for output. Pass disabled for live streams and
// non-seekable sinks.
func NewStore(output string, disabled bool) *Store {
	return &Store{path: output + Suffix, disabled: disabled}
}

// Path returns the sidecar file path.
func (s *Store) Path() string {
	return s.path
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool {
	return !s.disabled
}

// Load returns the stored record, nil if there is none, or ErrCorrupt if the
// file cannot be trusted.
func (s *Store) Load() (*Record, error) {
	if s.disabled {
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	version := 1
	if f.Version != nil {
		version = *f.Version
	}

	if version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	if f.Downloader == nil || f.Downloader.CurrentFragment == nil || f.Downloader.CurrentFragment.Index == nil {
		return nil, fmt.Errorf("%w: missing current fragment", ErrCorrupt)
	}

	if *f.Downloader.CurrentFragment.Index < 0 || f.Downloader.FragmentCount < 0 {
		return nil, fmt.Errorf("%w: negative fragment counter", ErrCorrupt)
	}

	return &Record{
		FragmentIndex: *f.Downloader.CurrentFragment.Index,
		FragmentCount: f.Downloader.FragmentCount,
		ExtraState:    f.Downloader.ExtraState,
	}, nil
}

// Save atomically replaces the sidecar with r.
func (s *Store) Save(r *Record) error {
	if s.disabled {
		return nil
	}

	version := Version
	index := r.FragmentIndex
	data, err := json.Marshal(fileFormat{
		Version: &version,
		Downloader: &downloaderState{
			CurrentFragment: &currentFragment{Index: &index},
			FragmentCount:   r.FragmentCount,
			ExtraState:      r.ExtraState,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	logger.Debugf("Saved bookkeeping for %s at fragment %d", s.path, r.FragmentIndex)

	return nil
}

// Delete removes the sidecar. A missing file is not an error.
func (s *Store) Delete() error {
	if s.disabled {
		return nil
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
