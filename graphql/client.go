// Package graphql implements the HTTPS transport for the vendor's GraphQL
// API. It owns request framing, the session headers the backend expects from
// the native app, and the normalization of transport failures into the same
// error envelope the backend itself produces, so callers handle exactly one
// failure shape.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"

	"github.com/go-securitas/securitas/internal/client"
	"github.com/go-securitas/securitas/internal/metrics"
)

// DefaultEndpoint is the production GraphQL endpoint.
const DefaultEndpoint = "https://customers.securitasdirect.es/owa-api/graphql"

// Wire fingerprint of the vendor's native app. The backend keys behavior off
// these values, so they are constants rather than derived from the library
// version.
const (
	defaultUserAgent = "HomeAssistant-MyVerisure/1.0"
	appHeader        = `{"origin": "native", "appVersion": "10.154.0"}`
	extensionHeader  = `{"mode": "full"}`
)

const errorBodyPreviewLen = 200

// Client is a connection to the vendor GraphQL API. It is safe for
// concurrent use. Session identity (user, hash, pinned installation) is
// mutable state fed into the headers of every request.
type Client struct {
	endpoint  string
	userAgent string
	country   string

	timeout            time.Duration
	insecureSkipVerify bool
	maxRetries         int
	retryDelay         time.Duration
	maxRetryDelay      time.Duration

	recorder metrics.Recorder
	logger   *log.Logger

	mu           sync.RWMutex
	retry        *retry.Client
	jar          *cookiejar.Jar
	endpointURL  *url.URL
	user         string
	hash         string
	lang         string
	numinst      string
	panel        string
	capabilities string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API endpoint. Useful for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) { c.insecureSkipVerify = skip }
}

// WithMaxRetries sets the maximum retry count for transient transport
// failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the initial backoff delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithMaxRetryDelay caps the backoff delay between retries.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.maxRetryDelay = d }
}

// WithCountry sets the account country sent in the session header.
func WithCountry(country string) Option {
	return func(c *Client) { c.country = country }
}

// WithLang sets the session language. The backend may update it after login.
func WithLang(lang string) Option {
	return func(c *Client) { c.lang = lang }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithLogger sets the logger. Defaults to the standard logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client. Connect must be called before Execute.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:      DefaultEndpoint,
		userAgent:     defaultUserAgent,
		country:       "ES",
		lang:          "es",
		timeout:       30 * time.Second,
		maxRetries:    3,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 10 * time.Second,
		recorder:      metrics.NewNoopMetrics(),
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect builds the underlying HTTP client. Calling Connect on a connected
// client is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retry != nil {
		return nil
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("graphql: invalid endpoint %q: %w", c.endpoint, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("graphql: create cookie jar: %w", err)
	}
	rc, err := client.CreateRetryClient(
		c.timeout,
		c.insecureSkipVerify,
		c.maxRetries,
		c.retryDelay,
		c.maxRetryDelay,
		jar,
	)
	if err != nil {
		return fmt.Errorf("graphql: create http client: %w", err)
	}

	c.endpointURL = u
	c.jar = jar
	c.retry = rc
	return nil
}

// Connected reports whether Connect has been called.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retry != nil
}

// Close tears down the transport and drops session cookies. Session identity
// (user, hash) is kept so a snapshot can still be saved after Close.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = nil
	c.jar = nil
	c.endpointURL = nil
}

// SetUser sets the account user carried in the session header.
func (c *Client) SetUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

// SetHash sets the session hash token. An empty hash serializes as null,
// which the backend expects before the first login.
func (c *Client) SetHash(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hash = hash
}

// Hash returns the current session hash token.
func (c *Client) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hash
}

// SetLang updates the session language, normally from the login response.
func (c *Client) SetLang(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lang != "" {
		c.lang = lang
	}
}

// Lang returns the current session language.
func (c *Client) Lang() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lang
}

// Country returns the account country.
func (c *Client) Country() string {
	return c.country
}

// SetInstallation pins an installation onto the session. Panel operations
// require the numinst, panel and x-capabilities headers to be present.
func (c *Client) SetInstallation(numinst, panel, capabilities string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numinst = numinst
	c.panel = panel
	c.capabilities = capabilities
}

// ClearInstallation removes the pinned installation headers.
func (c *Client) ClearInstallation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numinst = ""
	c.panel = ""
	c.capabilities = ""
}

// Cookies returns the session cookies currently held for the endpoint as a
// name to value map. Used to persist sessions across restarts.
func (c *Client) Cookies() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.jar == nil || c.endpointURL == nil {
		return nil
	}
	cookies := c.jar.Cookies(c.endpointURL)
	if len(cookies) == 0 {
		return nil
	}
	out := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		out[ck.Name] = ck.Value
	}
	return out
}

// SetCookies restores session cookies captured by Cookies. The client must
// be connected.
func (c *Client) SetCookies(cookies map[string]string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.jar == nil || c.endpointURL == nil || len(cookies) == 0 {
		return
	}
	restored := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		restored = append(restored, &http.Cookie{Name: name, Value: value})
	}
	c.jar.SetCookies(c.endpointURL, restored)
}

// Execute sends one GraphQL request and decodes the response envelope.
//
// Vendor-level failures come back as (resp, nil) with resp.Errors populated;
// callers inspect the envelope. Transport and decode failures return a
// non-nil error wrapping ErrTransport or ErrDecode together with a synthetic
// envelope holding the same message, so both paths can be handled through
// the envelope alone.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	c.mu.RLock()
	rc := c.retry
	c.mu.RUnlock()
	if rc == nil {
		return nil, ErrNotConnected
	}

	op := req.Op
	if op == "" {
		op = "unnamed"
	}
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return c.fail(op, start, fmt.Errorf("%w: encode request: %v", ErrTransport, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return c.fail(op, start, fmt.Errorf("%w: build request: %v", ErrTransport, err))
	}
	c.setHeaders(httpReq, req.Security)

	httpResp, err := rc.Do(ctx, httpReq)
	if err != nil {
		return c.fail(op, start, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer httpResp.Body.Close()

	// The retry layer may hand back a final retryable response with a
	// drained body, so a read failure on an error status is expected.
	raw, readErr := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		// Vendor errors occasionally ride on non-2xx statuses with a
		// regular error envelope. Surface those as envelopes.
		if readErr == nil {
			if env, decErr := decodeEnvelope(raw); decErr == nil && env.HasErrors() {
				c.finish(op, start, false)
				return env, nil
			}
		}
		msg := fmt.Sprintf("HTTP %d", httpResp.StatusCode)
		if p := bodyPreview(raw); p != "" {
			msg += ": " + p
		}
		return c.fail(op, start, fmt.Errorf("%w: %s", ErrTransport, msg))
	}

	if readErr != nil {
		return c.fail(op, start, fmt.Errorf("%w: read response: %v", ErrTransport, readErr))
	}

	env, decErr := decodeEnvelope(raw)
	if decErr != nil {
		return c.fail(op, start, fmt.Errorf("%w: %v: %s", ErrDecode, decErr, bodyPreview(raw)))
	}

	c.finish(op, start, !env.HasErrors())
	return env, nil
}

// fail records and logs a transport-level failure and returns it both as a
// wrapped error and as a normalized error envelope.
func (c *Client) fail(op string, start time.Time, err error) (*Response, error) {
	c.recorder.RecordAPIRequest(op, false, time.Since(start))
	c.logger.Printf("graphql: %s failed: %v", op, err)
	return &Response{Errors: []ResponseError{{Message: err.Error()}}}, err
}

func (c *Client) finish(op string, start time.Time, success bool) {
	c.recorder.RecordAPIRequest(op, success, time.Since(start))
}

func (c *Client) setHeaders(r *http.Request, sec *Security) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", c.userAgent)
	r.Header.Set("App", appHeader)
	r.Header.Set("Extension", extensionHeader)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user != "" {
		r.Header.Set("auth", c.authHeaderLocked())
	}
	if c.numinst != "" {
		r.Header.Set("numinst", c.numinst)
	}
	if c.panel != "" {
		r.Header.Set("panel", c.panel)
	}
	if c.capabilities != "" {
		r.Header.Set("x-capabilities", c.capabilities)
	}
	if sec != nil {
		if b, err := json.Marshal(sec); err == nil {
			r.Header.Set("Security", string(b))
		}
	}
}

// sessionHeader is the auth header payload. The hash key must be present
// even before login, serialized as null.
type sessionHeader struct {
	LoginTimestamp int64   `json:"loginTimestamp"`
	User           string  `json:"user"`
	ID             string  `json:"id"`
	Country        string  `json:"country"`
	Lang           string  `json:"lang"`
	Callby         string  `json:"callby"`
	Hash           *string `json:"hash"`
}

func (c *Client) authHeaderLocked() string {
	h := sessionHeader{
		LoginTimestamp: time.Now().UnixMilli(),
		User:           c.user,
		ID:             SessionID,
		Country:        c.country,
		Lang:           c.lang,
		Callby:         Callby,
	}
	if c.hash != "" {
		hash := c.hash
		h.Hash = &hash
	}
	b, err := json.Marshal(&h)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeEnvelope(raw []byte) (*Response, error) {
	var env Response
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func bodyPreview(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > errorBodyPreviewLen {
		return s[:errorBodyPreviewLen] + "..."
	}
	return s
}
