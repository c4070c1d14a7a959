package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/hlsdl/internal/config"
	"github.com/NamanBalaji/hlsdl/internal/downloader"
	"github.com/NamanBalaji/hlsdl/internal/external"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/manifest"
	"github.com/NamanBalaji/hlsdl/internal/metrics"
	"github.com/NamanBalaji/hlsdl/internal/repository"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
	httpProto "github.com/NamanBalaji/hlsdl/pkg/protocol/http"
)

// Options wires an Engine. Zero fields fall back to the real implementations.
type Options struct {
	Config       *config.Config
	Capabilities manifest.Capabilities
	Client       protocol.Fetcher
	Runner       external.Runner
	Metrics      *metrics.Recorder
	Progress     downloader.ProgressFunc
}

// Job is one playlist URL scheduled by Run.
type Job struct {
	ID       uuid.UUID
	URL      string
	Output   string
	Priority int
	Outcome  *Outcome
	Err      error
}

// Outcome summarizes a finished download.
type Outcome struct {
	Path        string
	Downloader  string
	Fragments   int
	Skipped     int
	Bytes       int64
	Interrupted bool
	// Archived is set when the URL was skipped because the archive already
	// records it as completed.
	Archived bool
}

type Engine struct {
	mu sync.RWMutex

	cfg      *config.Config
	caps     manifest.Capabilities
	client   protocol.Fetcher
	runner   external.Runner
	metrics  *metrics.Recorder
	progress downloader.ProgressFunc
	repo     *repository.BoltDBRepository
	jobs     map[uuid.UUID]*Job
}

// New creates an Engine and opens the download archive unless it is disabled.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}

	caps := opts.Capabilities
	caps.NativeLive = caps.NativeLive || cfg.Download.NativeLive
	caps.AllowUnplayable = caps.AllowUnplayable || cfg.Download.AllowUnplayable

	e := &Engine{
		cfg:      cfg,
		caps:     caps,
		client:   opts.Client,
		runner:   opts.Runner,
		metrics:  opts.Metrics,
		progress: opts.Progress,
		jobs:     make(map[uuid.UUID]*Job),
	}

	if e.client == nil {
		e.client = httpProto.NewClient(clientConfig(cfg.HTTP))
	}

	if e.runner == nil {
		e.runner = external.ExecRunner{}
	}

	if !cfg.NoArchive && cfg.Archive != "" {
		repo, err := repository.NewBoltDBRepository(cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		e.repo = repo
		logger.Debugf("Using download archive %s", cfg.Archive)
	}

	return e, nil
}

func clientConfig(h *config.HTTPConfig) *httpProto.ClientConfig {
	c := httpProto.DefaultConfig()
	c.Retries = h.Retries
	c.RetryDelay = h.RetryDelay
	c.RateLimit = h.RateLimit
	c.ResponseHeaderTimeout = h.Timeout
	c.DefaultHeaders["User-Agent"] = h.UserAgent
	for k, v := range h.Headers {
		c.DefaultHeaders[k] = v
	}
	return c
}

// Close releases the archive and HTTP connections.
func (e *Engine) Close() error {
	var errs []error

	if e.repo != nil {
		errs = append(errs, e.repo.Close())
	}

	if c, ok := e.client.(interface{ Cleanup() error }); ok {
		errs = append(errs, c.Cleanup())
	}

	return errors.Join(errs...)
}

// Job returns a scheduled job by ID.
func (e *Engine) Job(id uuid.UUID) (*Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	job, ok := e.jobs[id]
	return job, ok
}

// Run downloads urls in order of appearance, at most MaxConcurrentDownloads
// at a time. It returns every job and the joined errors of the failed ones.
func (e *Engine) Run(ctx context.Context, urls []string) ([]*Job, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}

	jobs := make([]*Job, 0, len(urls))
	taken := make(map[string]bool)

	for i, u := range urls {
		output, err := e.outputPath(u, e.cfg.Output, taken)
		if err != nil {
			return nil, err
		}

		job := &Job{ID: uuid.New(), URL: u, Output: output, Priority: len(urls) - i}
		jobs = append(jobs, job)

		e.mu.Lock()
		e.jobs[job.ID] = job
		e.mu.Unlock()
	}

	qp := NewQueueProcessor(e.cfg.MaxConcurrentDownloads, func(id uuid.UUID) error {
		return e.runJob(ctx, id)
	}, ctx.Done())

	for _, job := range jobs {
		qp.Enqueue(job.ID, job.Priority)
	}
	qp.Wait()

	var errs []error
	e.mu.Lock()
	for _, job := range jobs {
		if job.Outcome == nil && job.Err == nil {
			job.Err = fmt.Errorf("not started: %w", ctx.Err())
		}
		if job.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.URL, job.Err))
		}
	}
	e.mu.Unlock()

	return jobs, errors.Join(errs...)
}

func (e *Engine) runJob(ctx context.Context, id uuid.UUID) error {
	job, ok := e.Job(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}

	outcome, err := e.Download(ctx, job.URL, job.Output)

	e.mu.Lock()
	job.Outcome, job.Err = outcome, err
	e.mu.Unlock()

	return err
}

// Download fetches one playlist into output and records the result in the
// archive. An empty output is derived from the URL.
func (e *Engine) Download(ctx context.Context, rawURL, output string) (*Outcome, error) {
	if e.repo != nil && e.repo.Completed(rawURL) {
		logger.Infof("%s has already been recorded in the archive", rawURL)
		e.metrics.Download("archived")
		return &Outcome{Archived: true}, nil
	}

	if output == "" {
		var err error
		if output, err = e.outputPath(rawURL, "", nil); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	outcome, err := e.download(ctx, rawURL, output)
	status := statusOf(outcome, err)

	e.metrics.Download(string(status))
	e.record(rawURL, output, outcome, err, status, started)

	return outcome, err
}

func statusOf(o *Outcome, err error) repository.Status {
	switch {
	case errors.Is(err, downloader.ErrInterrupted), errors.Is(err, context.Canceled):
		return repository.StatusInterrupted
	case err != nil:
		return repository.StatusFailed
	case o != nil && o.Interrupted:
		return repository.StatusInterrupted
	default:
		return repository.StatusCompleted
	}
}

func (e *Engine) record(rawURL, output string, o *Outcome, err error, status repository.Status, started time.Time) {
	if e.repo == nil {
		return
	}

	entry := &repository.Entry{
		URL:        rawURL,
		Output:     output,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if o != nil {
		entry.Downloader = o.Downloader
		entry.Fragments = o.Fragments
		entry.Skipped = o.Skipped
		entry.Bytes = o.Bytes
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if err := e.repo.Save(entry); err != nil {
		logger.Warnf("Failed to record %s in the archive: %v", rawURL, err)
	}
}

// outputPath returns output if set, otherwise a file in the download
// directory named after the playlist. Names already in taken get a numeric
// suffix.
func (e *Engine) outputPath(rawURL, output string, taken map[string]bool) (string, error) {
	if output != "" {
		return output, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = "index"
	}
	name = strings.TrimSuffix(name, path.Ext(name))

	ext := ".ts"
	if e.cfg.Download.Subtitles {
		ext = ".vtt"
	}

	dir := e.cfg.Download.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	candidate := filepath.Join(dir, name+ext)
	for n := 2; taken[candidate]; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, n, ext))
	}
	if taken != nil {
		taken[candidate] = true
	}

	return candidate, nil
}
