package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NamanBalaji/hlsdl/internal/assembler"
	"github.com/NamanBalaji/hlsdl/internal/bookkeeping"
	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/manifest"
	"github.com/NamanBalaji/hlsdl/internal/metrics"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

// FragmentFetcher returns the plaintext of one fragment.
type FragmentFetcher interface {
	Fetch(ctx context.Context, frag *fragment.Fragment) ([]byte, *protocol.Metadata, error)
}

// Options controls one coordinator run.
type Options struct {
	Output string
	// ConcurrentFragments above 1 enables the worker pool.
	ConcurrentFragments int
	FragmentRetries     int
	RetryDelay          time.Duration
	SkipUnavailable     bool
	KeepFragments       bool
	NoBookkeeping       bool
	Live                bool
	// Subtitles merges WebVTT fragments instead of concatenating them.
	Subtitles bool
	// UpdateFiletime applies the last fragment's Last-Modified to the output.
	UpdateFiletime bool
	Progress       ProgressFunc
}

// State is the mutable state of one run, owned by the writer.
type State struct {
	TotalFragments    int
	AdFragments       int
	NextFragmentIndex int
	BytesCompleted    int64
	ExtraState        map[string]json.RawMessage
}

// Result summarizes a finished run.
type Result struct {
	Path        string
	Appended    int
	Skipped     int
	Bytes       int64
	Filetime    time.Time
	Interrupted bool
}

// Coordinator downloads a playlist's fragments and appends them to one output
// in index order.
type Coordinator struct {
	fetcher FragmentFetcher
	opts    Options
	metrics *metrics.Recorder

	state    State
	store    *bookkeeping.Store
	out      *assembler.Output
	packer   assembler.Packer
	speed    *SpeedCalculator
	started  time.Time
	filetime time.Time
	result   Result
}

func NewCoordinator(f FragmentFetcher, opts Options, rec *metrics.Recorder) *Coordinator {
	return &Coordinator{
		fetcher: f,
		opts:    opts,
		metrics: rec,
		speed:   NewSpeedCalculator(5),
	}
}

// State returns a copy of the run state.
func (c *Coordinator) State() State {
	return c.state
}

// Run downloads pl into the configured output, resuming from bookkeeping
// when possible.
func (c *Coordinator) Run(ctx context.Context, pl *manifest.Playlist) (*Result, error) {
	c.started = time.Now()
	c.state = State{TotalFragments: pl.TotalFragments, AdFragments: pl.AdFragments}
	c.result = Result{Path: c.opts.Output}

	if err := c.prepare(); err != nil {
		return nil, err
	}

	var pending []*fragment.Fragment
	for _, f := range pl.Fragments {
		if f.Index > c.state.NextFragmentIndex {
			pending = append(pending, f)
		}
	}

	if c.state.NextFragmentIndex > 0 {
		logger.Infof("Resuming %s at fragment %d of %d", c.opts.Output, c.state.NextFragmentIndex+1, c.state.TotalFragments)
	}

	var err error
	if c.opts.ConcurrentFragments > 1 {
		logger.Warnf("Downloading %d fragments at a time; the reported speed is an approximation", c.opts.ConcurrentFragments)
		err = c.runConcurrent(ctx, pending, c.opts.ConcurrentFragments)
	} else {
		err = c.runSequential(ctx, pending)
	}

	if err != nil {
		return c.abort(err)
	}

	return c.finish(false)
}

// prepare loads bookkeeping, validates it against the partial output and
// opens the output for appending or from scratch.
func (c *Coordinator) prepare() error {
	stdout := c.opts.Output == assembler.Stdout
	c.store = bookkeeping.NewStore(c.opts.Output, c.opts.Live || stdout || c.opts.NoBookkeeping)

	rec, err := c.store.Load()
	if err != nil {
		logger.Warnf("%v; restarting from the first fragment", err)
		rec = nil
	}

	partial := assembler.PartialSize(c.opts.Output)
	if rec != nil && rec.FragmentIndex > 0 && partial == 0 {
		logger.Warnf("Bookkeeping for %s claims %d fragments but the partial output is empty; restarting from the first fragment",
			c.opts.Output, rec.FragmentIndex)
		rec = nil
	}

	if rec != nil && rec.FragmentCount > 0 && rec.FragmentCount != c.state.TotalFragments {
		logger.Warnf("Fragment count changed from %d to %d since the last run", rec.FragmentCount, c.state.TotalFragments)
	}

	var extra map[string]json.RawMessage
	if rec != nil {
		c.state.NextFragmentIndex = rec.FragmentIndex
		extra = rec.ExtraState
	}

	if c.packer, err = c.newPacker(extra); err != nil {
		logger.Warnf("Discarding saved subtitle state: %v; restarting from the first fragment", err)
		c.state.NextFragmentIndex = 0
		if c.packer, err = c.newPacker(nil); err != nil {
			return err
		}
	}

	resume := c.state.NextFragmentIndex > 0
	if resume {
		c.state.BytesCompleted = partial
		c.state.ExtraState = extra
	}

	if c.out, err = assembler.Open(c.opts.Output, resume); err != nil {
		return err
	}

	if !resume {
		return c.saveBookkeeping()
	}

	return nil
}

func (c *Coordinator) newPacker(extra map[string]json.RawMessage) (assembler.Packer, error) {
	if c.opts.Subtitles {
		return assembler.NewWebVTTPacker(extra)
	}
	return assembler.RawPacker{}, nil
}

func (c *Coordinator) runSequential(ctx context.Context, frags []*fragment.Fragment) error {
	for _, f := range frags {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.write(c.fetchWithRetry(ctx, f)); err != nil {
			return err
		}
	}

	return nil
}

// fetchResult is one fragment's terminal fetch outcome.
type fetchResult struct {
	pos   int
	frag  *fragment.Fragment
	data  []byte
	meta  *protocol.Metadata
	state fragment.State
	err   error
}

// fetchWithRetry fetches f, retrying HTTP status failures up to the retry
// budget. Any other failure is final.
func (c *Coordinator) fetchWithRetry(ctx context.Context, f *fragment.Fragment) fetchResult {
	res := fetchResult{frag: f, state: fragment.Pending}

	for attempt := 0; ; attempt++ {
		res.state = fragment.Fetching

		data, meta, err := c.fetcher.Fetch(ctx, f)
		if err == nil {
			c.speed.AddBytes(int64(len(data)))
			res.data, res.meta, res.err = data, meta, nil
			return res
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			res.state, res.err = fragment.Fatal, ctxErr
			return res
		}

		if errors.Is(err, fragment.ErrMissing) {
			res.state, res.err = fragment.Skipped, err
			return res
		}

		if _, ok := protocol.HTTPStatus(err); !ok {
			res.state, res.err = fragment.Fatal, fmt.Errorf("%w: %w", fragment.ErrFetchFatal, err)
			return res
		}

		if attempt >= c.opts.FragmentRetries {
			res.state, res.err = fragment.Skipped, fmt.Errorf("%w: %w", fragment.ErrMissing, err)
			return res
		}

		res.state = fragment.Retrying
		c.metrics.Retry()
		logger.Warnf("Got error: %v. Retrying fragment %d (attempt %d of %d)...", err, f.Index, attempt+1, c.opts.FragmentRetries)

		if c.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				res.state, res.err = fragment.Fatal, ctx.Err()
				return res
			case <-time.After(c.opts.RetryDelay):
			}
		}
	}
}

// write consumes one fetch outcome. It runs on a single goroutine in
// fragment index order.
func (c *Coordinator) write(r fetchResult) error {
	f := r.frag

	if r.err != nil {
		if isCanceled(r.err) {
			return r.err
		}

		if errors.Is(r.err, fragment.ErrMissing) && f.Skippable() && c.opts.SkipUnavailable {
			logger.Warnf("Skipping fragment %d: %v", f.Index, r.err)
			c.metrics.Fragment(metrics.OutcomeSkipped)
			c.result.Skipped++
			c.state.NextFragmentIndex = f.Index
			return c.saveBookkeeping()
		}

		logger.Errorf("Fragment %d failed: %v", f.Index, r.err)
		c.metrics.Fragment(metrics.OutcomeFailed)
		return fragment.Wrap(f.Index, r.err)
	}

	packed, err := c.packer.Pack(f.Index, r.data)
	if err != nil {
		c.metrics.Fragment(metrics.OutcomeFailed)
		return fragment.Wrap(f.Index, fmt.Errorf("%w: %w", ErrFragmentPack, err))
	}

	if err := c.out.Append(packed); err != nil {
		return fragment.Wrap(f.Index, err)
	}

	done := c.state.NextFragmentIndex
	bytesBefore := c.state.BytesCompleted

	c.state.NextFragmentIndex = f.Index
	c.state.BytesCompleted += int64(len(packed))
	c.result.Appended++
	c.metrics.Fragment(metrics.OutcomeAppended)
	c.metrics.BytesWritten(len(packed))

	if c.state.ExtraState, err = c.packer.State(); err != nil {
		return fragment.Wrap(f.Index, err)
	}

	if err := c.saveBookkeeping(); err != nil {
		return err
	}

	c.handleArtifact(f.Index, r.data)

	if r.meta != nil && !r.meta.Filetime.IsZero() {
		c.filetime = r.meta.Filetime
	}

	c.report(StatusDownloading, f.Index, done, bytesBefore, int64(len(packed)))

	return nil
}

func (c *Coordinator) handleArtifact(index int, data []byte) {
	if c.out.IsStdout() {
		return
	}

	if c.opts.KeepFragments {
		if err := assembler.WriteArtifact(c.out.TempPath(), index, data); err != nil {
			logger.Warnf("Failed to keep fragment %d: %v", index, err)
		}
		return
	}

	if err := assembler.RemoveArtifact(c.out.TempPath(), index); err != nil {
		logger.Warnf("Failed to remove fragment %d artifact: %v", index, err)
	}
}

func (c *Coordinator) saveBookkeeping() error {
	return c.store.Save(&bookkeeping.Record{
		FragmentIndex: c.state.NextFragmentIndex,
		FragmentCount: c.state.TotalFragments,
		ExtraState:    c.state.ExtraState,
	})
}

func (c *Coordinator) report(status Status, index, done int, bytesBefore, fragBytes int64) {
	if c.opts.Progress == nil {
		return
	}

	p := Progress{
		Status:          status,
		Filename:        c.opts.Output,
		DownloadedBytes: c.state.BytesCompleted,
		FragmentIndex:   index,
		FragmentCount:   c.state.TotalFragments,
		Elapsed:         time.Since(c.started),
		Speed:           c.speed.GetSpeed(),
	}

	if status == StatusDownloading && !c.opts.Live {
		p.TotalBytesEstimate = estimateTotal(bytesBefore, fragBytes, done, c.state.TotalFragments)
		if p.Speed > 0 && p.TotalBytesEstimate > p.DownloadedBytes {
			p.ETA = time.Duration(float64(p.TotalBytesEstimate-p.DownloadedBytes) / float64(p.Speed) * float64(time.Second))
		}
	}

	if status == StatusFinished {
		p.TotalBytesEstimate = c.state.BytesCompleted
	}

	c.opts.Progress(p)
}

// abort handles a run that stopped early. Interrupting a live stream is a
// normal way to end it; anything else leaves bookkeeping for a later resume.
func (c *Coordinator) abort(err error) (*Result, error) {
	if isCanceled(err) && c.opts.Live {
		logger.Infof("Live download of %s interrupted; finalizing output", c.opts.Output)
		return c.finish(true)
	}

	if cerr := c.out.Close(); cerr != nil {
		logger.Warnf("Failed to close %s: %v", c.out.TempPath(), cerr)
	}

	if isCanceled(err) {
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	return nil, err
}

func (c *Coordinator) finish(interrupted bool) (*Result, error) {
	filetime := time.Time{}
	if c.opts.UpdateFiletime {
		filetime = c.filetime
	}

	if err := c.out.Finalize(filetime); err != nil {
		return nil, err
	}

	if err := c.store.Delete(); err != nil {
		logger.Warnf("Failed to delete bookkeeping %s: %v", c.store.Path(), err)
	}

	if c.result.Skipped > 0 {
		logger.Warnf("%d fragment(s) were unavailable and skipped", c.result.Skipped)
	}

	c.result.Bytes = c.state.BytesCompleted
	c.result.Filetime = c.filetime
	c.result.Interrupted = interrupted

	c.report(StatusFinished, c.state.NextFragmentIndex, c.state.NextFragmentIndex, c.state.BytesCompleted, 0)

	logger.Debugf("Finished %s: %d appended, %d skipped, %d bytes", c.opts.Output, c.result.Appended, c.result.Skipped, c.result.Bytes)

	result := c.result
	return &result, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
