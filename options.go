package securitas

import (
	"io"
	"log"
	"time"

	"github.com/go-securitas/securitas/alarm"
	"github.com/go-securitas/securitas/internal/metrics"
)

// Option configures a Client before it is wired together.
type Option func(*Client)

// WithEndpoint overrides the GraphQL endpoint URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		c.cfg.APIURL = url
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cfg.APITimeout = d
		}
	}
}

// WithCountry sets the account country code (default ES).
func WithCountry(country string) Option {
	return func(c *Client) {
		if country != "" {
			c.cfg.Country = country
		}
	}
}

// WithLang sets the account language (default es).
func WithLang(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.cfg.Lang = lang
		}
	}
}

// WithStorageDir sets the directory for device identities and session
// snapshots.
func WithStorageDir(dir string) Option {
	return func(c *Client) {
		c.cfg.StorageDir = dir
	}
}

// WithCacheDir sets the directory for the disk cache backend.
func WithCacheDir(dir string) Option {
	return func(c *Client) {
		c.cfg.CacheDir = dir
	}
}

// WithCacheBackend selects the installation cache backend: memory, disk
// or redis.
func WithCacheBackend(backend string) Option {
	return func(c *Client) {
		if backend != "" {
			c.cfg.CacheBackend = backend
		}
	}
}

// WithPhrases overrides the embedded alarm phrase table.
func WithPhrases(t *alarm.PhraseTable) Option {
	return func(c *Client) {
		c.phrases = t
	}
}

// WithPhrasesFile loads the alarm phrase table from a JSON file. The
// file is read during New, so a bad path fails construction.
func WithPhrasesFile(path string) Option {
	return func(c *Client) {
		c.phrasesPath = path
	}
}

// WithRecorder sets the metrics recorder. By default the recorder
// follows SECURITAS_METRICS_ENABLED.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger. Defaults to the standard logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSilentLogging discards all log output, for embedding the client
// in programs that do their own reporting.
func WithSilentLogging() Option {
	return func(c *Client) {
		c.logger = log.New(io.Discard, "", 0)
	}
}
