package engine

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/NamanBalaji/hlsdl/internal/assembler"
	"github.com/NamanBalaji/hlsdl/internal/config"
	"github.com/NamanBalaji/hlsdl/internal/downloader"
	"github.com/NamanBalaji/hlsdl/internal/external"
	"github.com/NamanBalaji/hlsdl/internal/fetcher"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/manifest"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

// download picks the native engine, the aria2c fragment list or ffmpeg for
// one playlist and runs it.
func (e *Engine) download(ctx context.Context, rawURL, output string) (*Outcome, error) {
	text, manifestURL, err := e.fetchManifest(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	info, err := manifest.Inspect(text)
	if err != nil {
		return nil, err
	}

	dl := e.cfg.Download
	live := dl.Live || info.Live
	parser := manifest.NewParser(e.caps)

	if reasons := parser.Check(text, live); len(reasons) > 0 {
		if slices.Contains(reasons, manifest.ReasonDRM) {
			return nil, fmt.Errorf("%w: %w", ErrDRMProtected, manifest.ErrUnsupported)
		}

		logger.Infof("%v (%s); handing %s to ffmpeg", manifest.ErrUnsupported, strings.Join(reasons, ", "), rawURL)

		if !e.caps.CanDecrypt {
			if dl.KeyURL != "" || dl.ExtraQuery != "" {
				return nil, ErrCannotDelegate
			}
			if parser.SupportsWithDecryption(text, live) {
				logger.Warnf("Decryption support is needed to download this playlist natively")
			}
		}

		return e.runFFmpeg(ctx, manifestURL, output, live)
	}

	switch e.cfg.External.Downloader {
	case config.DownloaderFFmpeg:
		if dl.KeyURL != "" || dl.ExtraQuery != "" {
			logger.Warnf("ffmpeg ignores the key url and segment query")
		}
		return e.runFFmpeg(ctx, manifestURL, output, live)
	case config.DownloaderAria2c:
		if e.aria2c().Supports(text) && !dl.Subtitles && !live && output != assembler.Stdout {
			return e.runAria2c(ctx, parser, text, manifestURL, output)
		}
		logger.Infof("aria2c cannot download %s; using the native downloader", rawURL)
	}

	return e.runNative(ctx, parser, text, manifestURL, output, live)
}

// fetchManifest returns the playlist text and the URL it was served from
// after redirects, which relative fragment and key URIs resolve against.
func (e *Engine) fetchManifest(ctx context.Context, rawURL string) (string, string, error) {
	logger.Debugf("Downloading playlist %s", rawURL)

	data, meta, err := e.client.Fetch(ctx, rawURL, protocol.FetchOptions{})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrManifestFetch, err)
	}

	manifestURL := rawURL
	if meta != nil && meta.URL != "" && meta.URL != rawURL {
		logger.Debugf("Playlist %s redirected to %s", rawURL, meta.URL)
		manifestURL = meta.URL
	}

	return string(data), manifestURL, nil
}

func (e *Engine) parse(parser *manifest.Parser, text, manifestURL string, live bool) (*manifest.Playlist, error) {
	dl := e.cfg.Download

	query, err := url.ParseQuery(dl.ExtraQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid segment query %q: %w", dl.ExtraQuery, err)
	}

	pl, err := parser.Parse(text, manifest.Options{
		BaseURL:     manifestURL,
		FormatIndex: dl.FormatIndex,
		ExtraQuery:  query,
		KeyURL:      dl.KeyURL,
		Test:        dl.Test,
	})
	if err != nil {
		return nil, err
	}

	if live {
		logger.Infof("Total fragments: unknown (live)")
	} else {
		ads := ""
		if pl.AdFragments > 0 {
			ads = fmt.Sprintf(" (not including %d ad)", pl.AdFragments)
		}
		logger.Infof("Total fragments: %d%s", pl.TotalFragments, ads)
	}

	return pl, nil
}

func (e *Engine) coordinatorOptions(output string, live bool) downloader.Options {
	dl := e.cfg.Download
	return downloader.Options{
		Output:              output,
		ConcurrentFragments: dl.ConcurrentFragments,
		FragmentRetries:     dl.FragmentRetries,
		RetryDelay:          dl.RetryDelay,
		SkipUnavailable:     !dl.AbortOnUnavailableFragment,
		KeepFragments:       dl.KeepFragments,
		NoBookkeeping:       dl.NoBookkeeping,
		Live:                live,
		Subtitles:           dl.Subtitles,
		UpdateFiletime:      !dl.NoMtime,
		Progress:            e.progress,
	}
}

func (e *Engine) newFetcher() *fetcher.Fetcher {
	return fetcher.New(e.client, fetcher.Options{Test: e.cfg.Download.Test}, e.metrics)
}

func (e *Engine) runNative(ctx context.Context, parser *manifest.Parser, text, manifestURL, output string, live bool) (*Outcome, error) {
	pl, err := e.parse(parser, text, manifestURL, live)
	if err != nil {
		return nil, err
	}

	coord := downloader.NewCoordinator(e.newFetcher(), e.coordinatorOptions(output, live), e.metrics)
	res, err := coord.Run(ctx, pl)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Path:        res.Path,
		Downloader:  config.DownloaderNative,
		Fragments:   res.Appended,
		Skipped:     res.Skipped,
		Bytes:       res.Bytes,
		Interrupted: res.Interrupted,
	}, nil
}

func (e *Engine) aria2c() *external.Aria2c {
	dl := e.cfg.Download
	return &external.Aria2c{
		Path:            e.cfg.External.Aria2c,
		Args:            e.cfg.External.Args,
		Headers:         e.cfg.HTTP.Headers,
		Runner:          e.runner,
		Retries:         dl.FragmentRetries,
		SkipUnavailable: !dl.AbortOnUnavailableFragment,
		Metrics:         e.metrics,
	}
}

// runAria2c lets aria2c fetch every fragment file, then merges them in order
// through the coordinator, decrypting and skipping as the native path would.
func (e *Engine) runAria2c(ctx context.Context, parser *manifest.Parser, text, manifestURL, output string) (*Outcome, error) {
	pl, err := e.parse(parser, text, manifestURL, false)
	if err != nil {
		return nil, err
	}

	tmp := assembler.TempPath(output)
	defer func() {
		if err := external.RemoveURLList(tmp); err != nil {
			logger.Warnf("Failed to remove %s: %v", tmp+external.URLListSuffix, err)
		}
	}()

	if err := e.aria2c().FetchFragments(ctx, tmp, pl.Fragments); err != nil {
		return nil, err
	}

	opts := e.coordinatorOptions(output, false)
	opts.ConcurrentFragments = 1
	opts.FragmentRetries = 0
	opts.NoBookkeeping = true

	coord := downloader.NewCoordinator(external.NewArtifactFetcher(tmp, e.newFetcher()), opts, e.metrics)
	res, err := coord.Run(ctx, pl)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Path:       res.Path,
		Downloader: config.DownloaderAria2c,
		Fragments:  res.Appended,
		Skipped:    res.Skipped,
		Bytes:      res.Bytes,
	}, nil
}

func (e *Engine) runFFmpeg(ctx context.Context, manifestURL, output string, live bool) (*Outcome, error) {
	headers := map[string]string{"User-Agent": e.cfg.HTTP.UserAgent}
	for k, v := range e.cfg.HTTP.Headers {
		headers[k] = v
	}

	ff := &external.FFmpeg{
		Path:    e.cfg.External.FFmpeg,
		Args:    e.cfg.External.Args,
		Headers: headers,
		Runner:  e.runner,
		Metrics: e.metrics,
	}

	res, err := ff.Download(ctx, external.Request{URL: manifestURL, Output: output, Live: live})
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Path:        res.Path,
		Downloader:  config.DownloaderFFmpeg,
		Bytes:       res.Bytes,
		Interrupted: res.Interrupted,
	}, nil
}
