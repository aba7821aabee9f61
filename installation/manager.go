// Package installation lists the account's installations and fetches
// per-installation service metadata, caching both so repeated reads do
// not hammer the vendor API.
//
// Cache entries are scoped to the session token they were written under:
// every key embeds a short hash of the token, so a re-login naturally
// orphans earlier entries instead of serving them across sessions.
// Installations move rarely and keep a long TTL; service metadata tracks
// panel state and expires faster.
package installation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-securitas/securitas/graphql"
	"github.com/go-securitas/securitas/internal/cache"
	"github.com/go-securitas/securitas/internal/metrics"
	"github.com/go-securitas/securitas/internal/util"
)

// Default entry lifetimes for the two cache classes.
const (
	DefaultInstallationsTTL = time.Hour
	DefaultServicesTTL      = 5 * time.Minute
)

// Cache class names, also used as the cache label on lookup metrics.
const (
	cacheInstallations = "installations"
	cacheServices      = "services"
)

// entryMeta remembers what was last written for a cache class so a miss
// can be told apart from a token change or an expired entry.
type entryMeta struct {
	short     string
	writtenAt time.Time
	ttl       time.Duration
}

// Manager serves installation lists and service metadata through the
// token-scoped cache. Safe for concurrent use.
type Manager struct {
	client *graphql.Client

	installations cache.Cache[[]Installation]
	services      cache.Cache[*Services]

	installationsTTL time.Duration
	servicesTTL      time.Duration
	deviceUUID       string

	recorder metrics.Recorder
	logger   *log.Logger

	mu   sync.Mutex
	meta map[string]entryMeta
}

// Option configures a Manager.
type Option func(*Manager)

// WithCaches replaces the default in-memory caches, usually with the
// disk or Redis backends.
func WithCaches(installations cache.Cache[[]Installation], services cache.Cache[*Services]) Option {
	return func(m *Manager) {
		if installations != nil {
			m.installations = installations
		}
		if services != nil {
			m.services = services
		}
	}
}

// WithTTLs overrides the default entry lifetimes. Non-positive values
// keep the defaults.
func WithTTLs(installations, services time.Duration) Option {
	return func(m *Manager) {
		if installations > 0 {
			m.installationsTTL = installations
		}
		if services > 0 {
			m.servicesTTL = services
		}
	}
}

// WithDeviceUUID attaches the device uuid to services queries.
func WithDeviceUUID(uuid string) Option {
	return func(m *Manager) {
		m.deviceUUID = uuid
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager on top of an authenticated GraphQL
// client. The default caches live in memory; pass WithCaches to keep
// entries across process restarts.
func NewManager(client *graphql.Client, opts ...Option) *Manager {
	m := &Manager{
		client:           client,
		installations:    cache.NewMemoryCache[[]Installation](),
		services:         cache.NewMemoryCache[*Services](),
		installationsTTL: DefaultInstallationsTTL,
		servicesTTL:      DefaultServicesTTL,
		recorder:         metrics.NewNoopMetrics(),
		logger:           log.Default(),
		meta:             make(map[string]entryMeta),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// List returns the account's installations, served from cache while the
// entry is fresh and the session token unchanged.
func (m *Manager) List(ctx context.Context) ([]Installation, error) {
	return m.list(ctx, false)
}

// RefreshList bypasses the cache and repopulates it.
func (m *Manager) RefreshList(ctx context.Context) ([]Installation, error) {
	return m.list(ctx, true)
}

func (m *Manager) list(ctx context.Context, force bool) ([]Installation, error) {
	short, err := m.tokenShort()
	if err != nil {
		return nil, err
	}
	key := installationsKey(short)

	if force {
		list, err := m.fetchList(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.installations.Set(ctx, key, list, m.installationsTTL); err != nil {
			m.logger.Printf("installation: cache write failed: %v", err)
		}
		m.remember(cacheInstallations, short, m.installationsTTL)
		return list, nil
	}

	fetched := false
	list, err := cache.GetWithFetch(ctx, m.installations, key, m.installationsTTL,
		func(ctx context.Context, _ string) ([]Installation, error) {
			fetched = true
			m.recorder.RecordCacheLookup(cacheInstallations, m.missReason(cacheInstallations, short))
			return m.fetchList(ctx)
		})
	if err != nil {
		return nil, err
	}
	if fetched {
		m.remember(cacheInstallations, short, m.installationsTTL)
	} else {
		m.recorder.RecordCacheLookup(cacheInstallations, metrics.CacheResultHit)
		m.logger.Printf("installation: %d installations served from cache", len(list))
	}
	return list, nil
}

// Get returns the installation with the given id, going through the same
// cache as List.
func (m *Manager) Get(ctx context.Context, installationID string) (*Installation, error) {
	if installationID == "" {
		return nil, ErrMissingID
	}
	list, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].NumInst == installationID {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, installationID)
}

// Services returns the service metadata for one installation, served
// from cache while the entry is fresh and the session token unchanged.
func (m *Manager) Services(ctx context.Context, installationID string) (*Services, error) {
	return m.servicesFor(ctx, installationID, false)
}

// RefreshServices bypasses the cache for one installation and
// repopulates it.
func (m *Manager) RefreshServices(ctx context.Context, installationID string) (*Services, error) {
	return m.servicesFor(ctx, installationID, true)
}

func (m *Manager) servicesFor(ctx context.Context, installationID string, force bool) (*Services, error) {
	if installationID == "" {
		return nil, ErrMissingID
	}
	short, err := m.tokenShort()
	if err != nil {
		return nil, err
	}
	key := servicesKey(short, installationID)
	mk := metaKey(cacheServices, installationID)

	if force {
		svc, err := m.fetchServices(ctx, installationID)
		if err != nil {
			return nil, err
		}
		if err := m.services.Set(ctx, key, svc, m.servicesTTL); err != nil {
			m.logger.Printf("installation: cache write failed: %v", err)
		}
		m.remember(mk, short, m.servicesTTL)
		return svc, nil
	}

	fetched := false
	svc, err := cache.GetWithFetch(ctx, m.services, key, m.servicesTTL,
		func(ctx context.Context, _ string) (*Services, error) {
			fetched = true
			m.recorder.RecordCacheLookup(cacheServices, m.missReason(mk, short))
			return m.fetchServices(ctx, installationID)
		})
	if err != nil {
		return nil, err
	}
	if fetched {
		m.remember(mk, short, m.servicesTTL)
	} else {
		m.recorder.RecordCacheLookup(cacheServices, metrics.CacheResultHit)
		m.logger.Printf("installation: services for %s served from cache", installationID)
	}
	return svc, nil
}

// ClearCache drops cached data. With an empty id every entry goes,
// including disk files left behind by earlier session tokens. With an id
// only that installation's services entry is removed.
func (m *Manager) ClearCache(ctx context.Context, installationID string) error {
	if installationID != "" {
		short, err := m.tokenShort()
		if err != nil {
			return err
		}
		if err := m.services.Delete(ctx, servicesKey(short, installationID)); err != nil {
			return err
		}
		m.forget(metaKey(cacheServices, installationID))
		m.logger.Printf("installation: cleared services cache for %s", installationID)
		return nil
	}

	instKeys, svcKeys := m.knownKeys()
	if err := clearAll(ctx, m.installations, instKeys); err != nil {
		return err
	}
	if err := clearAll(ctx, m.services, svcKeys); err != nil {
		return err
	}

	m.mu.Lock()
	m.meta = make(map[string]entryMeta)
	m.mu.Unlock()

	m.logger.Printf("installation: cleared installations and services cache")
	return nil
}

// CacheInfo reports cache state for diagnostics: entry ages, validity
// against the current token, and TTLs.
func (m *Manager) CacheInfo() map[string]any {
	var short string
	if hash := m.client.Hash(); hash != "" {
		short = util.ShortHash(hash)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	installations := map[string]any{
		"ttl_seconds": m.installationsTTL.Seconds(),
		"valid":       false,
	}
	if meta, ok := m.meta[cacheInstallations]; ok {
		age := now.Sub(meta.writtenAt)
		installations["age_seconds"] = age.Seconds()
		installations["token"] = meta.short
		installations["valid"] = meta.short == short && age < meta.ttl
	}

	cached := []string{}
	entries := map[string]any{}
	for mk, meta := range m.meta {
		id, ok := strings.CutPrefix(mk, cacheServices+"/")
		if !ok {
			continue
		}
		age := now.Sub(meta.writtenAt)
		cached = append(cached, id)
		entries[id] = map[string]any{
			"age_seconds": age.Seconds(),
			"valid":       meta.short == short && age < meta.ttl,
		}
	}
	sort.Strings(cached)

	return map[string]any{
		"current_token": short,
		"installations_cache": installations,
		"services_cache": map[string]any{
			"ttl_seconds":          m.servicesTTL.Seconds(),
			"cached_installations": cached,
			"entries":              entries,
		},
	}
}

func (m *Manager) fetchList(ctx context.Context) ([]Installation, error) {
	resp, err := m.client.Execute(ctx, &graphql.Request{
		Op:    graphql.OpInstallationList,
		Query: graphql.InstallationsQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("installation: list: %w", err)
	}
	if resp.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.ErrorMessage())
	}

	var payload struct {
		Installations struct {
			Installations []Installation `json:"installations"`
		} `json:"xSInstallations"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return nil, fmt.Errorf("installation: list: %w", err)
	}

	list := payload.Installations.Installations
	m.logger.Printf("installation: %d installations found", len(list))
	return list, nil
}

func (m *Manager) fetchServices(ctx context.Context, installationID string) (*Services, error) {
	vars := map[string]any{"numinst": installationID}
	if m.deviceUUID != "" {
		vars["uuid"] = m.deviceUUID
	}

	resp, err := m.client.Execute(ctx, &graphql.Request{
		Op:        graphql.OpInstallationServices,
		Query:     graphql.InstallationServicesQuery,
		Variables: vars,
	})
	if err != nil {
		return nil, fmt.Errorf("installation: services: %w", err)
	}
	if resp.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.ErrorMessage())
	}

	var payload struct {
		Srv *Services `json:"xSSrv"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return nil, fmt.Errorf("installation: services: %w", err)
	}
	if payload.Srv == nil {
		return nil, fmt.Errorf("%w: no response data", ErrRequestFailed)
	}
	if payload.Srv.Res != graphql.ResOK {
		msg := payload.Srv.Msg
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, msg)
	}

	m.logger.Printf("installation: %d services for installation %s (status %s)",
		len(payload.Srv.Installation.Services), installationID, payload.Srv.Installation.Status)
	return payload.Srv, nil
}

// tokenShort returns the short hash of the current session token.
func (m *Manager) tokenShort() (string, error) {
	hash := m.client.Hash()
	if hash == "" {
		return "", ErrNotAuthenticated
	}
	return util.ShortHash(hash), nil
}

// missReason classifies a cache miss: a token change since the last
// write, an expired entry, or a plain cold miss.
func (m *Manager) missReason(mk, short string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.meta[mk]
	switch {
	case !ok:
		return metrics.CacheResultMiss
	case meta.short != short:
		return metrics.CacheResultStaleToken
	case time.Since(meta.writtenAt) >= meta.ttl:
		return metrics.CacheResultExpired
	default:
		return metrics.CacheResultMiss
	}
}

func (m *Manager) remember(mk, short string, ttl time.Duration) {
	m.mu.Lock()
	m.meta[mk] = entryMeta{short: short, writtenAt: time.Now(), ttl: ttl}
	m.mu.Unlock()
}

func (m *Manager) forget(mk string) {
	m.mu.Lock()
	delete(m.meta, mk)
	m.mu.Unlock()
}

// knownKeys rebuilds the cache keys recorded in meta, used as the clear
// fallback for backends that cannot enumerate their own entries.
func (m *Manager) knownKeys() (installations, services []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for mk, meta := range m.meta {
		if mk == cacheInstallations {
			installations = append(installations, installationsKey(meta.short))
			continue
		}
		if id, ok := strings.CutPrefix(mk, cacheServices+"/"); ok {
			services = append(services, servicesKey(meta.short, id))
		}
	}
	return installations, services
}

// clearAll prefers the backend's own Clear, which also removes entries
// written under tokens the manager no longer remembers.
func clearAll[T any](ctx context.Context, c cache.Cache[T], fallbackKeys []string) error {
	if cl, ok := c.(cache.Clearer); ok {
		return cl.Clear(ctx)
	}
	for _, key := range fallbackKeys {
		if err := c.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func installationsKey(short string) string {
	return cacheInstallations + "_" + short
}

func servicesKey(short, installationID string) string {
	return cacheServices + "_" + short + "_" + installationID
}

func metaKey(class, installationID string) string {
	if installationID == "" {
		return class
	}
	return class + "/" + installationID
}
