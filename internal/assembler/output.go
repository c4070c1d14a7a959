package assembler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/internal/logger"
)

// Stdout is the output path that streams to standard output.
const Stdout = "-"

// PartSuffix names the temp output a download writes to before the final rename.
const PartSuffix = ".part"

var (
	ErrOutputOpen   = errors.New("failed to open output")
	ErrOutputWrite  = errors.New("failed to append to output")
	ErrOutputRename = errors.New("failed to move temp output into place")
)

// Output is the destination stream of one download.
type Output struct {
	path    string
	tmpPath string
	w       io.Writer
	file    *os.File
	written int64
}

// TempPath returns the temp name used while downloading path.
func TempPath(path string) string {
	if path == Stdout {
		return Stdout
	}
	return path + PartSuffix
}

// PartialSize returns the size of an existing temp output, or 0.
func PartialSize(path string) int64 {
	if path == Stdout {
		return 0
	}

	info, err := os.Stat(TempPath(path))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Open opens the temp output for path. With resume the existing temp output
// is appended to, otherwise it is truncated.
func Open(path string, resume bool) (*Output, error) {
	if path == Stdout {
		return &Output{path: path, tmpPath: Stdout, w: os.Stdout}, nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	tmp := TempPath(path)
	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputOpen, err)
	}

	logger.Debugf("Opened %s (resume=%v)", tmp, resume)

	return &Output{path: path, tmpPath: tmp, w: f, file: f}, nil
}

// Path returns the final output path.
func (o *Output) Path() string {
	return o.path
}

// TempPath returns the path being written.
func (o *Output) TempPath() string {
	return o.tmpPath
}

// IsStdout reports whether the output is standard output.
func (o *Output) IsStdout() bool {
	return o.path == Stdout
}

// Written returns the number of bytes appended through this handle.
func (o *Output) Written() int64 {
	return o.written
}

// Append writes data to the end of the output.
func (o *Output) Append(data []byte) error {
	n, err := o.w.Write(data)
	o.written += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	return nil
}

// Close closes the output without finalizing it.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}

	err := o.file.Close()
	o.file = nil
	return err
}

// Finalize closes the output, moves it to its final name and applies
// filetime as its modification time when set.
func (o *Output) Finalize(filetime time.Time) error {
	if o.IsStdout() {
		return nil
	}

	if err := o.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	if err := os.Rename(o.tmpPath, o.path); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputRename, err)
	}

	if !filetime.IsZero() {
		if err := os.Chtimes(o.path, time.Now(), filetime); err != nil {
			logger.Warnf("Failed to set modification time of %s: %v", o.path, err)
		}
	}

	return nil
}

// WriteArtifact stores a fragment's bytes next to the temp output.
func WriteArtifact(tmpPath string, index int, data []byte) error {
	if err := os.WriteFile(fragment.ArtifactName(tmpPath, index), data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", fragment.ErrArtifactWrite, err)
	}
	return nil
}

// ReadArtifact loads a fragment's bytes written by WriteArtifact or an
// external downloader.
func ReadArtifact(tmpPath string, index int) ([]byte, error) {
	return os.ReadFile(fragment.ArtifactName(tmpPath, index))
}

// RemoveArtifact deletes a fragment artifact if present.
func RemoveArtifact(tmpPath string, index int) error {
	err := os.Remove(fragment.ArtifactName(tmpPath, index))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
