package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const configFileName = "hlsdl"

// Downloader names accepted by external.downloader.
const (
	DownloaderNative = "native"
	DownloaderFFmpeg = "ffmpeg"
	DownloaderAria2c = "aria2c"
)

const (
	maxConcurrentDownloads = 2
	concurrentFragments    = 1
	fragmentRetries        = 10
	fragmentRetryDelay     = 0
	httpRetries            = 10
	httpRetryDelay         = time.Second
	httpTimeout            = 20 * time.Second
	userAgent              = "hlsdl/1.0"
	ffmpegPath             = "ffmpeg"
	aria2cPath             = "aria2c"
	metricsAddr            = ""
)

var (
	downloadDir = filepath.Join(xdg.UserDirs.Download, "hlsdl")
	archivePath = filepath.Join(xdg.DataHome, "hlsdl", "archive.db")
)

// flagConfig stores the parsed values from the cli flags.
type flagConfig struct {
	urls                   *string
	output                 *string
	maxConcurrentDownloads *int
	downloadDir            *string
	concurrentFragments    *int
	fragmentRetries        *int
	abortOnUnavailable     *bool
	keepFragments          *bool
	noBookkeeping          *bool
	test                   *bool
	live                   *bool
	nativeLive             *bool
	formatIndex            *int
	subtitles              *bool
	keyURL                 *string
	query                  *string
	noMtime                *bool
	rateLimit              *int64
	downloader             *string
	noArchive              *bool
	metricsAddr            *string
	debug                  *bool
	logFile                *string
}

// Config holds the configuration options for the application.
type Config struct {
	Urls                   []string
	Output                 string          `yaml:"-"`
	MaxConcurrentDownloads int             `yaml:"maxConcurrentDownloads,omitempty"`
	Archive                string          `yaml:"archive,omitempty"`
	NoArchive              bool            `yaml:"noArchive,omitempty"`
	MetricsAddr            string          `yaml:"metricsAddr,omitempty"`
	Logging                *LoggingConfig  `yaml:"logging,omitempty"`
	Download               *DownloadConfig `yaml:"download,omitempty"`
	HTTP                   *HTTPConfig     `yaml:"http,omitempty"`
	External               *ExternalConfig `yaml:"external,omitempty"`
}

// LoggingConfig holds logger options.
type LoggingConfig struct {
	Debug bool   `yaml:"debug,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// DownloadConfig holds options for the fragment downloader.
type DownloadConfig struct {
	Dir                        string        `yaml:"dir,omitempty"`
	ConcurrentFragments        int           `yaml:"concurrentFragments,omitempty"`
	FragmentRetries            int           `yaml:"fragmentRetries,omitempty"`
	RetryDelay                 time.Duration `yaml:"retryDelay,omitempty"`
	AbortOnUnavailableFragment bool          `yaml:"abortOnUnavailableFragment,omitempty"`
	KeepFragments              bool          `yaml:"keepFragments,omitempty"`
	NoBookkeeping              bool          `yaml:"noBookkeeping,omitempty"`
	NoMtime                    bool          `yaml:"noMtime,omitempty"`
	Test                       bool          `yaml:"test,omitempty"`
	Live                       bool          `yaml:"live,omitempty"`
	NativeLive                 bool          `yaml:"nativeLive,omitempty"`
	AllowUnplayable            bool          `yaml:"allowUnplayable,omitempty"`
	FormatIndex                int           `yaml:"formatIndex,omitempty"`
	Subtitles                  bool          `yaml:"subtitles,omitempty"`
	KeyURL                     string        `yaml:"keyUrl,omitempty"`
	ExtraQuery                 string        `yaml:"extraQuery,omitempty"`
}

// HTTPConfig holds options for the HTTP fetch primitive.
type HTTPConfig struct {
	Retries    int               `yaml:"retries,omitempty"`
	RetryDelay time.Duration     `yaml:"retryDelay,omitempty"`
	RateLimit  int64             `yaml:"rateLimit,omitempty"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
	UserAgent  string            `yaml:"userAgent,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
}

// ExternalConfig selects and configures the external downloaders.
type ExternalConfig struct {
	Downloader string   `yaml:"downloader,omitempty"`
	FFmpeg     string   `yaml:"ffmpeg,omitempty"`
	Aria2c     string   `yaml:"aria2c,omitempty"`
	Args       []string `yaml:"args,omitempty"`
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it uses default configuration
// but STILL applies CLI flags.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	var cfg Config

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if len(b) > 0 {
		err = yaml.Unmarshal(b, &cfg)
		if err != nil {
			return nil, err
		}
	}

	logCfg := zeroOr(cfg.Logging, defaults.Logging)
	dlCfg := zeroOr(cfg.Download, defaults.Download)
	httpCfg := zeroOr(cfg.HTTP, defaults.HTTP)
	extCfg := zeroOr(cfg.External, defaults.External)

	conf := Config{
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		Archive:                zeroOr(cfg.Archive, defaults.Archive),
		NoArchive:              cfg.NoArchive,
		MetricsAddr:            zeroOr(cfg.MetricsAddr, defaults.MetricsAddr),
		Logging: &LoggingConfig{
			Debug: logCfg.Debug,
			File:  logCfg.File,
		},
		Download: &DownloadConfig{
			Dir:                        zeroOr(dlCfg.Dir, defaults.Download.Dir),
			ConcurrentFragments:        zeroOr(dlCfg.ConcurrentFragments, defaults.Download.ConcurrentFragments),
			FragmentRetries:            zeroOr(dlCfg.FragmentRetries, defaults.Download.FragmentRetries),
			RetryDelay:                 zeroOr(dlCfg.RetryDelay, defaults.Download.RetryDelay),
			AbortOnUnavailableFragment: dlCfg.AbortOnUnavailableFragment,
			KeepFragments:              dlCfg.KeepFragments,
			NoBookkeeping:              dlCfg.NoBookkeeping,
			NoMtime:                    dlCfg.NoMtime,
			Test:                       dlCfg.Test,
			Live:                       dlCfg.Live,
			NativeLive:                 dlCfg.NativeLive,
			AllowUnplayable:            dlCfg.AllowUnplayable,
			FormatIndex:                dlCfg.FormatIndex,
			Subtitles:                  dlCfg.Subtitles,
			KeyURL:                     dlCfg.KeyURL,
			ExtraQuery:                 dlCfg.ExtraQuery,
		},
		HTTP: &HTTPConfig{
			Retries:    zeroOr(httpCfg.Retries, defaults.HTTP.Retries),
			RetryDelay: zeroOr(httpCfg.RetryDelay, defaults.HTTP.RetryDelay),
			RateLimit:  httpCfg.RateLimit,
			Timeout:    zeroOr(httpCfg.Timeout, defaults.HTTP.Timeout),
			UserAgent:  zeroOr(httpCfg.UserAgent, defaults.HTTP.UserAgent),
			Headers:    httpCfg.Headers,
		},
		External: &ExternalConfig{
			Downloader: zeroOr(extCfg.Downloader, defaults.External.Downloader),
			FFmpeg:     zeroOr(extCfg.FFmpeg, defaults.External.FFmpeg),
			Aria2c:     zeroOr(extCfg.Aria2c, defaults.External.Aria2c),
			Args:       extCfg.Args,
		},
	}

	conf.applyFlagsToConfig()

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: maxConcurrentDownloads,
		Archive:                archivePath,
		MetricsAddr:            metricsAddr,
		Logging:                &LoggingConfig{},
		Download: &DownloadConfig{
			Dir:                 downloadDir,
			ConcurrentFragments: concurrentFragments,
			FragmentRetries:     fragmentRetries,
			RetryDelay:          fragmentRetryDelay,
		},
		HTTP: &HTTPConfig{
			Retries:    httpRetries,
			RetryDelay: httpRetryDelay,
			Timeout:    httpTimeout,
			UserAgent:  userAgent,
		},
		External: &ExternalConfig{
			Downloader: DownloaderNative,
			FFmpeg:     ffmpegPath,
			Aria2c:     aria2cPath,
		},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

// applyFlagsToConfig takes the value of the cli flags applied at the start and plugs them into the config.
func (c *Config) applyFlagsToConfig() {
	d := c.Download
	fc := flagConfig{
		urls:                   flag.String("urls", "", "playlist urls separated by space"),
		output:                 flag.String("o", "", "output file, - for stdout (single url only)"),
		maxConcurrentDownloads: flag.Int("mcd", c.MaxConcurrentDownloads, "max number of downloads that run together"),
		downloadDir:            flag.String("dd", d.Dir, "directory new downloads are written to"),
		concurrentFragments:    flag.Int("N", d.ConcurrentFragments, "number of fragments fetched in parallel"),
		fragmentRetries:        flag.Int("fr", d.FragmentRetries, "retries per fragment on HTTP errors"),
		abortOnUnavailable:     flag.Bool("abort-on-unavailable-fragment", d.AbortOnUnavailableFragment, "fail instead of skipping fragments that stay unavailable"),
		keepFragments:          flag.Bool("keep-fragments", d.KeepFragments, "keep fragment files after they are merged"),
		noBookkeeping:          flag.Bool("no-bookkeeping", d.NoBookkeeping, "do not write resume state"),
		test:                   flag.Bool("test", d.Test, "download only the first fragment"),
		live:                   flag.Bool("live", d.Live, "treat the playlist as a live stream"),
		nativeLive:             flag.Bool("native-live", d.NativeLive, "download live streams without an external tool"),
		formatIndex:            flag.Int("format-index", d.FormatIndex, "keep only fragments of the n-th discontinuity period"),
		subtitles:              flag.Bool("subs", d.Subtitles, "merge WebVTT subtitle fragments"),
		keyURL:                 flag.String("key-url", d.KeyURL, "fetch every AES-128 key from this url"),
		query:                  flag.String("query", d.ExtraQuery, "query string appended to fragment and key urls"),
		noMtime:                flag.Bool("no-mtime", d.NoMtime, "do not set the output modification time from Last-Modified"),
		rateLimit:              flag.Int64("r", c.HTTP.RateLimit, "maximum download rate in bytes per second"),
		downloader:             flag.String("downloader", c.External.Downloader, "native, ffmpeg or aria2c"),
		noArchive:              flag.Bool("no-archive", c.NoArchive, "download urls already recorded in the archive"),
		metricsAddr:            flag.String("metrics", c.MetricsAddr, "address to serve prometheus metrics on"),
		debug:                  flag.Bool("debug", c.Logging.Debug, "enable debug logging"),
		logFile:                flag.String("log-file", c.Logging.File, "also write JSON logs to this file"),
	}

	flag.Parse()

	if *fc.urls != "" {
		c.Urls = strings.Fields(*fc.urls)
	}
	c.Urls = append(c.Urls, flag.Args()...)

	c.Output = *fc.output
	c.MaxConcurrentDownloads = *fc.maxConcurrentDownloads
	d.Dir = *fc.downloadDir
	d.ConcurrentFragments = *fc.concurrentFragments
	d.FragmentRetries = *fc.fragmentRetries
	d.AbortOnUnavailableFragment = *fc.abortOnUnavailable
	d.KeepFragments = *fc.keepFragments
	d.NoBookkeeping = *fc.noBookkeeping
	d.Test = *fc.test
	d.Live = *fc.live
	d.NativeLive = *fc.nativeLive
	d.FormatIndex = *fc.formatIndex
	d.Subtitles = *fc.subtitles
	d.KeyURL = *fc.keyURL
	d.ExtraQuery = *fc.query
	d.NoMtime = *fc.noMtime
	c.HTTP.RateLimit = *fc.rateLimit
	c.External.Downloader = *fc.downloader
	c.NoArchive = *fc.noArchive
	c.MetricsAddr = *fc.metricsAddr
	c.Logging.Debug = *fc.debug
	c.Logging.File = *fc.logFile
}

func (c *Config) validate() error {
	if c.MaxConcurrentDownloads <= 0 {
		return ErrInvalidConfig
	}

	if c.Output != "" && len(c.Urls) > 1 {
		return ErrInvalidConfig
	}

	if err := c.Download.validate(); err != nil {
		return err
	}

	if err := c.HTTP.validate(); err != nil {
		return err
	}

	return c.External.validate()
}

func (d *DownloadConfig) validate() error {
	if d.Dir == "" || d.ConcurrentFragments <= 0 || d.FragmentRetries < 0 || d.RetryDelay < 0 || d.FormatIndex < 0 {
		return ErrInvalidConfig
	}

	return nil
}

func (h *HTTPConfig) validate() error {
	if h.Retries < 0 || h.RetryDelay < 0 || h.RateLimit < 0 || h.Timeout <= 0 {
		return ErrInvalidConfig
	}

	return nil
}

func (e *ExternalConfig) validate() error {
	switch e.Downloader {
	case DownloaderNative, DownloaderFFmpeg, DownloaderAria2c:
		return nil
	default:
		return ErrInvalidConfig
	}
}
