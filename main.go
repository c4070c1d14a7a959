package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NamanBalaji/hlsdl/internal/config"
	"github.com/NamanBalaji/hlsdl/internal/downloader"
	"github.com/NamanBalaji/hlsdl/internal/engine"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/manifest"
	"github.com/NamanBalaji/hlsdl/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 2
	}

	if err := logger.InitLogging(cfg.Logging.Debug, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
		logger.Infof("Serving metrics on %s", cfg.MetricsAddr)
	}

	eng, err := engine.New(engine.Options{
		Config: cfg,
		Capabilities: manifest.Capabilities{
			CanDecrypt:      true,
			NativeLive:      cfg.Download.NativeLive,
			AllowUnplayable: cfg.Download.AllowUnplayable,
		},
		Metrics:  rec,
		Progress: newProgressLine().print,
	})
	if err != nil {
		logger.Errorf("Error creating engine: %v", err)
		return 1
	}
	defer eng.Close()

	jobs, err := eng.Run(ctx, cfg.Urls)
	summarize(jobs)

	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}

	return 0
}

// progressLine redraws a single status line on stderr, at most a few times
// per second.
type progressLine struct {
	mu   sync.Mutex
	last time.Time
}

func newProgressLine() *progressLine {
	return &progressLine{}
}

func (p *progressLine) print(pr downloader.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pr.Status == downloader.StatusDownloading && time.Since(p.last) < 250*time.Millisecond {
		return
	}
	p.last = time.Now()

	line := fmt.Sprintf("[download] %s  frag %d", humanize.Bytes(uint64(pr.DownloadedBytes)), pr.FragmentIndex)
	if pr.FragmentCount > 0 {
		line += fmt.Sprintf("/%d", pr.FragmentCount)
	}
	if pr.TotalBytesEstimate > 0 {
		line += " of ~" + humanize.Bytes(uint64(pr.TotalBytesEstimate))
	}
	if pr.Speed > 0 {
		line += " at " + humanize.Bytes(uint64(pr.Speed)) + "/s"
	}
	if pr.ETA > 0 {
		line += " ETA " + pr.ETA.Round(time.Second).String()
	}

	end := ""
	if pr.Status == downloader.StatusFinished {
		end = "\n"
	}
	fmt.Fprintf(os.Stderr, "\r\033[K%s%s", line, end)
}

func summarize(jobs []*engine.Job) {
	for _, job := range jobs {
		switch {
		case job.Err != nil:
			logger.Errorf("%s: %v", job.URL, job.Err)
		case job.Outcome == nil:
		case job.Outcome.Archived:
			logger.Infof("%s: already in archive", job.URL)
		default:
			o := job.Outcome
			msg := fmt.Sprintf("%s: %s via %s, %d fragments, %s", job.URL, o.Path, o.Downloader, o.Fragments, humanize.Bytes(uint64(o.Bytes)))
			if o.Skipped > 0 {
				msg += fmt.Sprintf(", %d skipped", o.Skipped)
			}
			if o.Interrupted {
				msg += " (stopped)"
			}
			logger.Infof("%s", msg)
		}
	}
}
