// Package securitas is a Go client for the Securitas Direct (Verisure)
// customer API. It drives the full vendor flow: password login with
// device identity, the SMS OTP challenge for new devices, installation
// and service discovery with token-scoped caching, and the alarm panel
// commands with their submit-then-poll protocol.
//
// A minimal session looks like:
//
//	client, err := securitas.New(user, password)
//	if err != nil { ... }
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil { ... }
//	outcome, err := client.Login(ctx)
//	if err != nil { ... }
//	if outcome.NeedsOTP() {
//		// pick a phone from outcome.OTPRequired.Phones, then:
//		client.SendOTP(ctx, phoneID)
//		client.VerifyOTP(ctx, code)
//	}
//
//	installations, err := client.Installations(ctx)
//	client.SelectInstallation(ctx, installations[0].NumInst)
//	status, err := client.AlarmStatus(ctx)
package securitas

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-securitas/securitas/alarm"
	"github.com/go-securitas/securitas/auth"
	"github.com/go-securitas/securitas/device"
	"github.com/go-securitas/securitas/graphql"
	"github.com/go-securitas/securitas/installation"
	"github.com/go-securitas/securitas/internal/cache"
	"github.com/go-securitas/securitas/internal/config"
	"github.com/go-securitas/securitas/internal/metrics"
)

var (
	// ErrMissingCredentials is returned by New when user or password is
	// empty.
	ErrMissingCredentials = errors.New("securitas: user and password required")

	// ErrNotConnected is returned when an operation needs Connect first.
	ErrNotConnected = errors.New("securitas: not connected")

	// ErrNoInstallation is returned by alarm operations before
	// SelectInstallation has pinned one.
	ErrNoInstallation = errors.New("securitas: no installation selected")
)

// Client ties the transport, authentication, installation and alarm
// layers together for one account. It is safe for concurrent use.
type Client struct {
	cfg      *config.Config
	user     string
	password string

	logger      *log.Logger
	recorder    metrics.Recorder
	phrases     *alarm.PhraseTable
	phrasesPath string

	transport *graphql.Client
	devices   *device.Manager
	session   *auth.Session
	panel     *alarm.Controller

	mu       sync.Mutex
	installs *installation.Manager
	target   *alarm.Target
	closers  []func() error
}

// New builds a Client for the given account. Configuration comes from
// the environment (SECURITAS_* variables, .env honored) and can be
// adjusted with options. No network traffic happens until Connect.
func New(user, password string, opts ...Option) (*Client, error) {
	if user == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	c := &Client{
		cfg:      config.Load(),
		user:     user,
		password: password,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("securitas: %w", err)
	}
	if c.recorder == nil {
		c.recorder = metrics.Init(c.cfg.MetricsEnabled)
	}
	if c.phrasesPath != "" && c.phrases == nil {
		data, err := os.ReadFile(c.phrasesPath)
		if err != nil {
			return nil, fmt.Errorf("securitas: read phrase table: %w", err)
		}
		table, err := alarm.ParsePhrases(data)
		if err != nil {
			return nil, fmt.Errorf("securitas: %w", err)
		}
		c.phrases = table
	}

	c.transport = graphql.NewClient(
		graphql.WithEndpoint(c.cfg.APIURL),
		graphql.WithTimeout(c.cfg.APITimeout),
		graphql.WithInsecureSkipVerify(c.cfg.APIInsecureSkipVerify),
		graphql.WithMaxRetries(c.cfg.APIMaxRetries),
		graphql.WithRetryDelay(c.cfg.APIRetryDelay),
		graphql.WithMaxRetryDelay(c.cfg.APIMaxRetryDelay),
		graphql.WithCountry(c.cfg.Country),
		graphql.WithLang(c.cfg.Lang),
		graphql.WithRecorder(c.recorder),
		graphql.WithLogger(c.logger),
	)

	c.devices = device.NewManager(user,
		device.WithDir(c.cfg.StorageDir),
		device.WithLogger(c.logger),
	)
	c.session = auth.NewSession(user, password, c.transport,
		auth.WithDeviceManager(c.devices),
		auth.WithRecorder(c.recorder),
		auth.WithLogger(c.logger),
	)

	alarmOpts := []alarm.Option{
		alarm.WithRecorder(c.recorder),
		alarm.WithLogger(c.logger),
	}
	if c.phrases != nil {
		alarmOpts = append(alarmOpts, alarm.WithPhrases(c.phrases))
	}
	c.panel = alarm.NewController(c.transport, alarmOpts...)

	return c, nil
}

// Connect loads or generates the device identity, initializes the
// installation cache backend and opens the transport. Calling it on a
// connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installs != nil {
		return nil
	}

	id := c.devices.Ensure()
	c.logger.Printf("securitas: device identity %s (%s)", id.UUID, id.Name)

	instCache, err := newCacheBackend[[]installation.Installation](ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("securitas: installations cache: %w", err)
	}
	svcCache, err := newCacheBackend[*installation.Services](ctx, c.cfg)
	if err != nil {
		instCache.Close()
		return fmt.Errorf("securitas: services cache: %w", err)
	}
	c.closers = []func() error{instCache.Close, svcCache.Close}
	c.logCacheBackend()

	if err := c.transport.Connect(); err != nil {
		c.closeCachesLocked()
		return fmt.Errorf("securitas: %w", err)
	}

	c.installs = installation.NewManager(c.transport,
		installation.WithCaches(instCache, svcCache),
		installation.WithTTLs(c.cfg.InstallationsTTL, c.cfg.ServicesTTL),
		installation.WithDeviceUUID(id.UUID),
		installation.WithRecorder(c.recorder),
		installation.WithLogger(c.logger),
	)
	return nil
}

// newCacheBackend builds one cache of the configured backend type.
func newCacheBackend[T any](ctx context.Context, cfg *config.Config) (cache.Cache[T], error) {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		cctx, cancel := context.WithTimeout(ctx, cfg.CacheInitTimeout)
		defer cancel()
		return cache.NewRedisCache[T](cctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "securitas:")
	case config.CacheBackendMemory:
		return cache.NewMemoryCache[T](), nil
	default:
		return cache.NewDiskCache[T](cacheDir(cfg))
	}
}

func cacheDir(cfg *config.Config) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".securitas_cache"
	}
	return filepath.Join(home, ".securitas_cache")
}

func (c *Client) logCacheBackend() {
	switch c.cfg.CacheBackend {
	case config.CacheBackendRedis:
		c.logger.Printf("securitas: cache backend redis (addr=%s, db=%d)", c.cfg.RedisAddr, c.cfg.RedisDB)
	case config.CacheBackendMemory:
		c.logger.Printf("securitas: cache backend memory (single process only)")
	default:
		c.logger.Printf("securitas: cache backend disk (dir=%s)", cacheDir(c.cfg))
	}
}

// Close releases the cache backends and the transport. The client can
// Connect again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.closeCachesLocked()
	c.installs = nil
	c.transport.Close()
	return err
}

func (c *Client) closeCachesLocked() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Login authenticates the account. When the vendor requires an SMS
// code the outcome reports NeedsOTP and the caller continues with
// SendOTP and VerifyOTP.
func (c *Client) Login(ctx context.Context) (*auth.LoginOutcome, error) {
	return c.session.Login(ctx)
}

// SendOTP asks the vendor to text a code to one of the challenge
// phones returned by Login.
func (c *Client) SendOTP(ctx context.Context, phoneID int) error {
	return c.session.SendOTP(ctx, phoneID)
}

// VerifyOTP submits the received SMS code and completes the login.
func (c *Client) VerifyOTP(ctx context.Context, code string) error {
	return c.session.VerifyOTP(ctx, code)
}

// Phones lists the phones of the pending OTP challenge, if any.
func (c *Client) Phones() []graphql.Phone {
	return c.session.Phones()
}

// State returns the authentication state of the session.
func (c *Client) State() auth.State {
	return c.session.State()
}

// User returns the account user.
func (c *Client) User() string {
	return c.user
}

// DeviceInfo returns a diagnostic view of the device identity.
func (c *Client) DeviceInfo() map[string]any {
	return c.devices.Info()
}

// Installations lists the installations of the account, served from
// cache within the TTL.
func (c *Client) Installations(ctx context.Context) ([]installation.Installation, error) {
	m, err := c.manager()
	if err != nil {
		return nil, err
	}
	return m.List(ctx)
}

// RefreshInstallations bypasses the cache and refetches the list.
func (c *Client) RefreshInstallations(ctx context.Context) ([]installation.Installation, error) {
	m, err := c.manager()
	if err != nil {
		return nil, err
	}
	return m.RefreshList(ctx)
}

// InstallationServices returns the service metadata of an installation.
// An empty id means the selected installation.
func (c *Client) InstallationServices(ctx context.Context, installationID string) (*installation.Services, error) {
	m, err := c.manager()
	if err != nil {
		return nil, err
	}
	return m.Services(ctx, c.resolveID(installationID))
}

// RefreshInstallationServices bypasses the cache and refetches the
// services. An empty id means the selected installation.
func (c *Client) RefreshInstallationServices(ctx context.Context, installationID string) (*installation.Services, error) {
	m, err := c.manager()
	if err != nil {
		return nil, err
	}
	return m.RefreshServices(ctx, c.resolveID(installationID))
}

// ClearCache drops the services entry of one installation, or every
// cached entry when id is empty.
func (c *Client) ClearCache(ctx context.Context, installationID string) error {
	m, err := c.manager()
	if err != nil {
		return err
	}
	return m.ClearCache(ctx, installationID)
}

// CacheInfo reports cache ages, validity and cached installations for
// diagnostics.
func (c *Client) CacheInfo() (map[string]any, error) {
	m, err := c.manager()
	if err != nil {
		return nil, err
	}
	return m.CacheInfo(), nil
}

// SelectInstallation validates the installation against the account,
// resolves its panel and capabilities from the service metadata and
// pins them on the transport for the alarm operations. When the
// services cannot be fetched the panel falls back to the list entry
// and the vendor defaults.
func (c *Client) SelectInstallation(ctx context.Context, installationID string) error {
	m, err := c.manager()
	if err != nil {
		return err
	}
	inst, err := m.Get(ctx, installationID)
	if err != nil {
		return err
	}

	panel := inst.Panel
	capabilities := ""
	if svc, err := m.Services(ctx, inst.NumInst); err != nil {
		c.logger.Printf("securitas: services unavailable for %s, using defaults: %v", inst.NumInst, err)
	} else {
		if svc.Installation.Panel != "" {
			panel = svc.Installation.Panel
		}
		capabilities = svc.Installation.Capabilities
	}
	if panel == "" {
		panel = alarm.DefaultPanel
	}
	if capabilities == "" {
		capabilities = alarm.DefaultCapabilities
	}

	target := alarm.Target{
		InstallationID: inst.NumInst,
		Panel:          panel,
		Capabilities:   capabilities,
	}
	c.transport.SetInstallation(target.InstallationID, target.Panel, target.Capabilities)

	c.mu.Lock()
	c.target = &target
	c.mu.Unlock()

	c.logger.Printf("securitas: selected installation %s (%s, panel %s)", inst.NumInst, inst.Alias, panel)
	return nil
}

// Selected returns the pinned installation target, if any.
func (c *Client) Selected() (alarm.Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return alarm.Target{}, false
	}
	return *c.target, true
}

// ArmAway arms the full internal alarm.
func (c *Client) ArmAway(ctx context.Context) (*alarm.Result, error) {
	return c.command(ctx, c.panel.ArmAway)
}

// ArmHome arms the perimeter alarm.
func (c *Client) ArmHome(ctx context.Context) (*alarm.Result, error) {
	return c.command(ctx, c.panel.ArmHome)
}

// ArmNight arms the night alarm.
func (c *Client) ArmNight(ctx context.Context) (*alarm.Result, error) {
	return c.command(ctx, c.panel.ArmNight)
}

// Disarm disarms the alarm.
func (c *Client) Disarm(ctx context.Context) (*alarm.Result, error) {
	return c.command(ctx, c.panel.Disarm)
}

func (c *Client) command(
	ctx context.Context,
	run func(context.Context, alarm.Target) (*alarm.Result, error),
) (*alarm.Result, error) {
	target, err := c.selectedTarget()
	if err != nil {
		return nil, err
	}
	return run(ctx, target)
}

// AlarmStatus reads the current panel state of the selected
// installation. When the vendor's status reader fails or times out the
// error is logged and a disarmed default is reported, so a flapping
// reader answers "not armed" rather than an error on every poll.
func (c *Client) AlarmStatus(ctx context.Context) (*alarm.Status, error) {
	target, err := c.selectedTarget()
	if err != nil {
		return nil, err
	}
	status, err := c.panel.Status(ctx, target)
	if err != nil {
		if errors.Is(err, alarm.ErrStatusFailed) || errors.Is(err, alarm.ErrStatusTimeout) {
			c.logger.Printf("securitas: status read failed, reporting disarmed: %v", err)
			return &alarm.Status{Timestamp: time.Now()}, nil
		}
		return nil, err
	}
	return status, nil
}

func (c *Client) selectedTarget() (alarm.Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return alarm.Target{}, ErrNoInstallation
	}
	return *c.target, nil
}

// SaveSession persists the session snapshot for the account under the
// storage directory.
func (c *Client) SaveSession() error {
	return auth.SaveSnapshot(c.sessionPath(), c.session.Snapshot())
}

// LoadSession restores a previously saved session snapshot. A missing
// file surfaces as os.ErrNotExist; an expired snapshot as
// auth.ErrSessionExpired. Both mean the caller should Login.
func (c *Client) LoadSession() error {
	snap, err := auth.LoadSnapshot(c.sessionPath())
	if err != nil {
		return err
	}
	return c.session.RestoreSnapshot(snap)
}

func (c *Client) sessionPath() string {
	return auth.SnapshotPath(c.cfg.StorageDir, c.user)
}

func (c *Client) manager() (*installation.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installs == nil {
		return nil, ErrNotConnected
	}
	return c.installs, nil
}

func (c *Client) resolveID(installationID string) string {
	if installationID != "" {
		return installationID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target != nil {
		return c.target.InstallationID
	}
	return ""
}
