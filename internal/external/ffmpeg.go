package external

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NamanBalaji/hlsdl/internal/assembler"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/metrics"
)

// Request describes a whole-playlist download handed to an external tool.
type Request struct {
	URL    string
	Output string
	Live   bool
}

// Result is the outcome of a delegated download.
type Result struct {
	Path        string
	Bytes       int64
	Interrupted bool
}

// FFmpeg downloads a playlist by letting ffmpeg consume it directly.
type FFmpeg struct {
	Path    string
	Args    []string
	Headers map[string]string
	Runner  Runner
	Metrics *metrics.Recorder
}

// Download runs ffmpeg into the temp output and renames it on success.
// Interrupting a live stream is a normal stop.
func (f *FFmpeg) Download(ctx context.Context, req Request) (*Result, error) {
	f.Metrics.Delegated("ffmpeg")

	tmp := assembler.TempPath(req.Output)
	interrupted := false

	err := f.Runner.Run(ctx, f.Path, f.args(req.URL, req.Output, tmp))
	if err != nil {
		if !req.Live || !isCanceled(err) {
			return nil, fmt.Errorf("ffmpeg download of %s: %w", req.URL, err)
		}
		logger.Infof("[ffmpeg] Interrupted by user")
		interrupted = true
	}

	res := &Result{Path: req.Output, Interrupted: interrupted}
	if req.Output == assembler.Stdout {
		return res, nil
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg produced no output: %v", ErrToolFailed, err)
	}
	res.Bytes = info.Size()

	if err := os.Rename(tmp, req.Output); err != nil {
		return nil, fmt.Errorf("%w: %v", assembler.ErrOutputRename, err)
	}

	logger.Infof("[ffmpeg] Downloaded %d bytes", res.Bytes)

	return res, nil
}

func (f *FFmpeg) args(url, output, tmp string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "warning"}

	if len(f.Headers) > 0 {
		keys := make([]string, 0, len(f.Headers))
		for k := range f.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\r\n", k, f.Headers[k])
		}
		args = append(args, "-headers", b.String())
	}

	args = append(args, "-i", url, "-c", "copy")
	args = append(args, f.Args...)

	format := containerFormat(output)
	if format == "mp4" {
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	args = append(args, "-f", format)

	if output == assembler.Stdout {
		return append(args, "pipe:1")
	}

	return append(args, tmp)
}

// containerFormat picks the muxer from the final file name since the temp
// output always ends in .part.
func containerFormat(output string) string {
	switch strings.ToLower(filepath.Ext(output)) {
	case ".mp4", ".m4a", ".m4v", ".mov":
		return "mp4"
	case ".mkv", ".mka":
		return "matroska"
	case ".webm":
		return "webm"
	default:
		return "mpegts"
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
