package external

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/metrics"
)

// URLListSuffix is appended to the temp output to name aria2c's input file.
const URLListSuffix = ".frag.urls"

// Aria2c fetches every fragment of a playlist into artifact files next to
// the temp output. Merging them is left to the caller.
type Aria2c struct {
	Path    string
	Args    []string
	Headers map[string]string
	Runner  Runner
	// Retries is the number of times the whole batch is re-run on failure.
	Retries int
	// SkipUnavailable lets a batch that keeps failing continue to the merge,
	// where missing fragments are skipped.
	SkipUnavailable bool
	Metrics         *metrics.Recorder
}

// Supports reports whether aria2c can fetch the playlist's fragments as
// whole files.
func (a *Aria2c) Supports(playlist string) bool {
	return !strings.Contains(playlist, "#EXT-X-BYTERANGE")
}

// FetchFragments downloads frags to fragment.ArtifactName(tmp, index).
func (a *Aria2c) FetchFragments(ctx context.Context, tmp string, frags []*fragment.Fragment) error {
	a.Metrics.Delegated("aria2c")

	for _, f := range frags {
		if f.ByteRange != nil {
			return fmt.Errorf("%w: fragment %d uses a byte range", ErrUnsupported, f.Index)
		}
	}

	list := tmp + URLListSuffix
	if err := writeURLList(list, tmp, frags); err != nil {
		return err
	}

	args := a.args(tmp, list)

	var err error
	for attempt := 0; attempt <= a.Retries; attempt++ {
		if err = a.Runner.Run(ctx, a.Path, args); err == nil {
			return nil
		}

		if isCanceled(err) {
			return err
		}

		logger.Warnf("[aria2c] %v", err)
		if attempt < a.Retries {
			logger.Warnf("[aria2c] Got error. Retrying fragments (attempt %d of %d)...", attempt+1, a.Retries)
		}
	}

	if !a.SkipUnavailable {
		return fmt.Errorf("%w: %d: %w", ErrGaveUp, a.Retries, err)
	}

	return nil
}

// RemoveURLList deletes the input file written by FetchFragments.
func RemoveURLList(tmp string) error {
	if err := os.Remove(tmp + URLListSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeURLList(path, tmp string, frags []*fragment.Fragment) error {
	base := filepath.Base(tmp)

	lines := make([]string, 0, len(frags))
	for _, f := range frags {
		lines = append(lines, fmt.Sprintf("%s\n\tout=%s", f.URL, fragment.ArtifactName(base, f.Index)))
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to write url list: %w", err)
	}

	return nil
}

func (a *Aria2c) args(tmp, list string) []string {
	args := []string{
		"-c",
		"--console-log-level=warn", "--summary-interval=0", "--download-result=hide",
		"--file-allocation=none", "-x16", "-j16", "-s16",
		"--allow-overwrite=true", "--allow-piece-length-change=true",
	}

	keys := make([]string, 0, len(a.Headers))
	for k := range a.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--header", fmt.Sprintf("%s: %s", k, a.Headers[k]))
	}

	args = append(args, a.Args...)

	// aria2c trims spaces around paths unless they are anchored.
	if dir := filepath.Dir(tmp); dir != "." {
		if !filepath.IsAbs(dir) {
			dir = "." + string(filepath.Separator) + dir
		}
		args = append(args, "--dir", dir+string(filepath.Separator))
	}

	return append(args, "--auto-file-renaming=false", "--uri-selector=inorder", "-i", list)
}
