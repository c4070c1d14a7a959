package http

import (
	"crypto/tls"
	"net/url"
	"time"
)

type ClientConfig struct {
	// Connection settings
	ProxyURL            *url.URL
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	MaxRedirects        int

	// Timeouts
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	KeepAliveTimeout      time.Duration

	// Retries for connection-level failures. HTTP status errors are never retried here.
	Retries    int
	RetryDelay time.Duration

	// RateLimit caps body throughput in bytes per second. Zero disables it.
	RateLimit int64

	// TLS
	TLSConfig *tls.Config

	// Headers
	DefaultHeaders map[string]string
}

// DefaultConfig returns a ClientConfig with sensible defaults
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       16,
		IdleConnTimeout:       90 * time.Second,
		MaxRedirects:          10,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		KeepAliveTimeout:      30 * time.Second,
		Retries:               10,
		RetryDelay:            time.Second,

		DefaultHeaders: map[string]string{
			"User-Agent": "hlsdl/1.0",
		},
	}
}
