package http

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

type HTTPClient struct {
	client    *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
	config    ClientConfig
}

func NewClient(config *ClientConfig) *HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,

		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
	}

	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}

	if config.TLSConfig != nil {
		transport.TLSClientConfig = config.TLSConfig
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return &HTTPError{
					Type:      ErrorTypeValidation,
					Operation: "redirect",
					URL:       req.URL.String(),
					Err:       fmt.Errorf("too many redirects (max: %d)", config.MaxRedirects),
				}
			}
			return nil
		},
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), int(max(config.RateLimit, 32*1024)))
	}

	return &HTTPClient{
		client:    client,
		transport: transport,
		limiter:   limiter,
		config:    *config,
	}
}

// Fetch downloads urlStr in full. Connection failures are retried up to
// config.Retries times; a non-success status is returned immediately as an
// ErrorTypeHTTP error so the caller can apply its own policy.
func (c *HTTPClient) Fetch(ctx context.Context, urlStr string, opts protocol.FetchOptions) ([]byte, *protocol.Metadata, error) {
	if len(urlStr) == 0 {
		return nil, nil, &HTTPError{Type: ErrorTypeValidation, Operation: "GET", Err: errors.New("url is empty")}
	}

	if !c.Supports(urlStr) {
		return nil, nil, &HTTPError{Type: ErrorTypeValidation, Operation: "GET", URL: urlStr, Err: errors.New("url does not support HTTP/HTTPS")}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			logger.Debugf("Retrying GET %s after connection error (attempt %d of %d): %v", urlStr, attempt, c.config.Retries, lastErr)

			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		body, meta, err := c.get(ctx, urlStr, opts)
		if err == nil {
			return body, meta, nil
		}

		lastErr = err

		var httpErr *HTTPError
		if ctx.Err() != nil || !errors.As(err, &httpErr) || !httpErr.retryable() {
			return nil, nil, err
		}
	}

	return nil, nil, lastErr
}

func (c *HTTPClient) get(ctx context.Context, urlStr string, opts protocol.FetchOptions) ([]byte, *protocol.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, nil, &HTTPError{Type: ErrorTypeValidation, Operation: "GET", URL: urlStr, Err: err}
	}

	c.applyHeaders(req, opts)

	resp, err := c.client.Do(req)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return nil, nil, httpErr
		}
		return nil, nil, NewHTTPNetworkError("GET", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, NewHTTPStatusError("GET", urlStr, resp.StatusCode,
			fmt.Errorf("GET request returned status %d", resp.StatusCode))
	}

	body, err := c.decodeBody(resp)
	if err != nil {
		return nil, nil, NewHTTPNetworkError("GET", urlStr, err)
	}

	data, err := io.ReadAll(c.limit(ctx, body))
	if err != nil {
		return nil, nil, NewHTTPNetworkError("GET", urlStr, err)
	}

	// Some servers ignore Range and send the whole resource.
	if opts.Range != nil && resp.StatusCode == http.StatusOK {
		if int64(len(data)) < opts.Range.End {
			return nil, nil, &HTTPError{
				Type:      ErrorTypeValidation,
				Operation: "GET",
				URL:       urlStr,
				Err:       fmt.Errorf("range %s ignored and body has only %d bytes", opts.Range.Header(), len(data)),
			}
		}
		data = data[opts.Range.Start:opts.Range.End]
	}

	meta := &protocol.Metadata{
		URL:         resp.Request.URL.String(),
		Size:        int64(len(data)),
		ContentType: resp.Header.Get("Content-Type"),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if ts, err := http.ParseTime(lm); err == nil {
			meta.Filetime = ts
		}
	}

	return data, meta, nil
}

func (c *HTTPClient) decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return resp.Body, nil
	}
}

func (c *HTTPClient) limit(ctx context.Context, r io.Reader) io.Reader {
	if c.limiter == nil {
		return r
	}

	return &rateLimitedReader{ctx: ctx, r: r, limiter: c.limiter}
}

func (c *HTTPClient) applyHeaders(req *http.Request, opts protocol.FetchOptions) {
	req.Header.Set("Accept-Encoding", "gzip, br")

	for k, v := range c.config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if opts.Range != nil {
		req.Header.Set("Range", opts.Range.Header())
		// Compressed bodies would make the range meaningless.
		req.Header.Set("Accept-Encoding", "identity")
	}
}

func (c *HTTPClient) Supports(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "http" || scheme == "https"
}

func (c *HTTPClient) Cleanup() error {
	c.transport.CloseIdleConnections()
	return nil
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}
