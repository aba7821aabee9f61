package installation

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-securitas/securitas/graphql"
	"github.com/go-securitas/securitas/internal/cache"
	"github.com/go-securitas/securitas/internal/util"
)

const respListOK = `{"data":{"xSInstallations":{"installations":[
  {"numinst":"12345","alias":"Home","panel":"SDVFAST","type":"A","name":"Ana","surname":"Garcia",
   "address":"Calle Mayor 1","city":"Madrid","postcode":"28001","province":"Madrid",
   "email":"ana@example.com","phone":"600111222","due":"2026-01-01","role":"OWNER"},
  {"numinst":"67890","alias":"Office","panel":"SDVFAST","type":"B","name":"Ana","surname":"Garcia",
   "address":"Gran Via 2","city":"Madrid","postcode":"28002","province":"Madrid",
   "email":"ana@example.com","phone":"600111222"}
]}}}`

const respListError = `{"errors":[{"message":"session expired","data":{"err":"10011"}}]}`

const respServicesHome = `{"data":{"xSSrv":{"res":"OK","msg":"","language":"es","installation":{
  "numinst":"12345","role":"OWNER","alias":"Home","status":"E","panel":"SDVFAST",
  "sim":"SIM123","instIbs":"IBS123",
  "services":[
    {"idService":"EST","active":true,"visible":true,"request":"EST"},
    {"idService":"31","active":true,"visible":true,"request":"ARM1","codOper":"A",
     "genericConfig":{"total":1,"attributes":[{"key":"night_mode","value":"1"}]}},
    {"idService":"32","active":true,"visible":true,"request":"PERI1"},
    {"idService":"46","active":false,"visible":false,"request":"DARM1"}
  ],
  "configRepoUser":{"alarmPartitions":[{"id":"1","enterStates":["D"],"leaveStates":["A"]}]},
  "capabilities":"cap-token-abc"}}}}`

const respServicesOffice = `{"data":{"xSSrv":{"res":"OK","language":"es","installation":{
  "numinst":"67890","role":"USER","alias":"Office","status":"D","panel":"SDVFAST",
  "sim":"SIM456","instIbs":"IBS456",
  "services":[{"idService":"EST","active":true,"visible":true,"request":"EST"}],
  "capabilities":"cap-token-def"}}}}`

const respServicesKO = `{"data":{"xSSrv":{"res":"KO","msg":"installation blocked"}}}`

// vendorStub answers list and services queries with canned bodies and
// counts how often each one is fetched.
type vendorStub struct {
	mu          sync.Mutex
	listBody    string
	srvBodies   map[string]string
	listCalls   int
	srvCalls    map[string]int
	lastSrvVars map[string]any
}

func newVendorStub() *vendorStub {
	return &vendorStub{
		listBody: respListOK,
		srvBodies: map[string]string{
			"12345": respServicesHome,
			"67890": respServicesOffice,
		},
		srvCalls: make(map[string]int),
	}
}

func (v *vendorStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		_ = json.Unmarshal(raw, &req)

		v.mu.Lock()
		defer v.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(req.Query, "mkInstallationList"):
			v.listCalls++
			io.WriteString(w, v.listBody)
		case strings.Contains(req.Query, "xSSrv"):
			id, _ := req.Variables["numinst"].(string)
			v.srvCalls[id]++
			v.lastSrvVars = req.Variables
			body, ok := v.srvBodies[id]
			if !ok {
				body = `{"errors":[{"message":"unknown installation","data":{}}]}`
			}
			io.WriteString(w, body)
		default:
			io.WriteString(w, `{"errors":[{"message":"unexpected operation","data":{}}]}`)
		}
	}
}

func (v *vendorStub) listCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listCalls
}

func (v *vendorStub) srvCount(id string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.srvCalls[id]
}

func (v *vendorStub) srvVars() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSrvVars
}

// recordingMetrics captures cache lookup labels as "cache:result" pairs.
type recordingMetrics struct {
	mu      sync.Mutex
	lookups []string
}

func (r *recordingMetrics) RecordAPIRequest(string, bool, time.Duration)     {}
func (r *recordingMetrics) RecordLogin(string)                               {}
func (r *recordingMetrics) RecordOTPSent(bool)                               {}
func (r *recordingMetrics) RecordOTPVerification(bool)                       {}
func (r *recordingMetrics) RecordAlarmCommand(string, string, time.Duration) {}
func (r *recordingMetrics) RecordStatusCheck(bool, int)                      {}

func (r *recordingMetrics) RecordCacheLookup(cache, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, cache+":"+result)
}

func (r *recordingMetrics) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lookups...)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestClient(t *testing.T, stub *vendorStub) *graphql.Client {
	t.Helper()

	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := graphql.NewClient(
		graphql.WithEndpoint(srv.URL),
		graphql.WithMaxRetries(0),
		graphql.WithRetryDelay(time.Millisecond),
		graphql.WithMaxRetryDelay(time.Millisecond),
		graphql.WithLogger(discardLogger()),
	)
	require.NoError(t, client.Connect())
	t.Cleanup(client.Close)

	client.SetUser("cache_user")
	client.SetHash("token-one")
	return client
}

func newTestManager(t *testing.T, stub *vendorStub, opts ...Option) (*Manager, *graphql.Client) {
	t.Helper()

	client := newTestClient(t, stub)
	base := []Option{
		WithLogger(discardLogger()),
		WithDeviceUUID("11111111-2222-3333-4444-555555555555"),
	}
	return NewManager(client, append(base, opts...)...), client
}

func TestListNotAuthenticated(t *testing.T) {
	stub := newVendorStub()
	m, client := newTestManager(t, stub)
	client.SetHash("")

	_, err := m.List(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 0, stub.listCount())
}

func TestListFetchesAndCaches(t *testing.T) {
	stub := newVendorStub()
	rec := &recordingMetrics{}
	m, _ := newTestManager(t, stub, WithRecorder(rec))

	list, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "12345", list[0].NumInst)
	assert.Equal(t, "Home", list[0].Alias)
	assert.Equal(t, "SDVFAST", list[0].Panel)
	assert.Equal(t, "OWNER", list[0].Role)
	assert.Equal(t, "67890", list[1].NumInst)
	assert.Empty(t, list[1].Role)

	again, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, list, again)
	assert.Equal(t, 1, stub.listCount())

	assert.Equal(t, []string{"installations:miss", "installations:hit"}, rec.recorded())
}

func TestListTokenChangeInvalidates(t *testing.T) {
	stub := newVendorStub()
	rec := &recordingMetrics{}
	m, client := newTestManager(t, stub, WithRecorder(rec))

	_, err := m.List(context.Background())
	require.NoError(t, err)

	client.SetHash("token-two")

	_, err = m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stub.listCount())

	assert.Equal(t, []string{"installations:miss", "installations:stale_token"}, rec.recorded())
}

func TestListExpiredEntry(t *testing.T) {
	stub := newVendorStub()
	rec := &recordingMetrics{}
	m, _ := newTestManager(t, stub, WithRecorder(rec), WithTTLs(10*time.Millisecond, 10*time.Millisecond))

	_, err := m.List(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stub.listCount())

	assert.Equal(t, []string{"installations:miss", "installations:expired"}, rec.recorded())
}

func TestRefreshListBypassesCache(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)

	_, err := m.List(context.Background())
	require.NoError(t, err)

	_, err = m.RefreshList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stub.listCount())

	// The refresh repopulated the cache.
	_, err = m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stub.listCount())
}

func TestListVendorError(t *testing.T) {
	stub := newVendorStub()
	stub.listBody = respListError
	m, _ := newTestManager(t, stub)

	_, err := m.List(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "session expired")
}

func TestGet(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)

	inst, err := m.Get(context.Background(), "67890")
	require.NoError(t, err)
	assert.Equal(t, "Office", inst.Alias)

	_, err = m.Get(context.Background(), "00000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingID)

	// Both lookups went through the cached list.
	assert.Equal(t, 1, stub.listCount())
}

func TestServicesRequiresID(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)

	_, err := m.Services(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestServicesFetchesAndCaches(t *testing.T) {
	stub := newVendorStub()
	rec := &recordingMetrics{}
	m, _ := newTestManager(t, stub, WithRecorder(rec))

	svc, err := m.Services(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "OK", svc.Res)
	assert.Equal(t, "es", svc.Language)
	assert.Equal(t, "E", svc.Installation.Status)
	assert.Equal(t, "SDVFAST", svc.Installation.Panel)
	assert.Equal(t, "cap-token-abc", svc.Installation.Capabilities)
	require.Len(t, svc.Installation.Services, 4)

	arm, ok := svc.ServiceByRequest("ARM1")
	require.True(t, ok)
	assert.True(t, arm.Active)
	assert.Equal(t, "A", arm.CodOper)
	assert.NotEmpty(t, arm.GenericConfig)

	vars := stub.srvVars()
	assert.Equal(t, "12345", vars["numinst"])
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", vars["uuid"])

	again, err := m.Services(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, svc, again)
	assert.Equal(t, 1, stub.srvCount("12345"))

	assert.Equal(t, []string{"services:miss", "services:hit"}, rec.recorded())
}

func TestServicesPerInstallationKeying(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)

	home, err := m.Services(context.Background(), "12345")
	require.NoError(t, err)
	office, err := m.Services(context.Background(), "67890")
	require.NoError(t, err)
	assert.Equal(t, "Home", home.Installation.Alias)
	assert.Equal(t, "Office", office.Installation.Alias)

	_, err = m.Services(context.Background(), "12345")
	require.NoError(t, err)
	_, err = m.Services(context.Background(), "67890")
	require.NoError(t, err)

	assert.Equal(t, 1, stub.srvCount("12345"))
	assert.Equal(t, 1, stub.srvCount("67890"))
}

func TestRefreshServicesBypassesCache(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)

	_, err := m.Services(context.Background(), "12345")
	require.NoError(t, err)

	_, err = m.RefreshServices(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.srvCount("12345"))

	_, err = m.Services(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.srvCount("12345"))
}

func TestServicesRejected(t *testing.T) {
	stub := newVendorStub()
	stub.srvBodies["12345"] = respServicesKO
	m, _ := newTestManager(t, stub)

	_, err := m.Services(context.Background(), "12345")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "installation blocked")
}

func TestServicesVendorError(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)

	_, err := m.Services(context.Background(), "99999")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "unknown installation")
}

func TestClearCacheAll(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)
	ctx := context.Background()

	_, err := m.List(ctx)
	require.NoError(t, err)
	_, err = m.Services(ctx, "12345")
	require.NoError(t, err)

	require.NoError(t, m.ClearCache(ctx, ""))

	_, err = m.List(ctx)
	require.NoError(t, err)
	_, err = m.Services(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.listCount())
	assert.Equal(t, 2, stub.srvCount("12345"))
}

func TestClearCacheSingleInstallation(t *testing.T) {
	stub := newVendorStub()
	m, _ := newTestManager(t, stub)
	ctx := context.Background()

	_, err := m.Services(ctx, "12345")
	require.NoError(t, err)
	_, err = m.Services(ctx, "67890")
	require.NoError(t, err)

	require.NoError(t, m.ClearCache(ctx, "67890"))

	_, err = m.Services(ctx, "12345")
	require.NoError(t, err)
	_, err = m.Services(ctx, "67890")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.srvCount("12345"))
	assert.Equal(t, 2, stub.srvCount("67890"))
}

func TestCacheInfo(t *testing.T) {
	stub := newVendorStub()
	m, client := newTestManager(t, stub)
	ctx := context.Background()

	info := m.CacheInfo()
	inst := info["installations_cache"].(map[string]any)
	assert.Equal(t, false, inst["valid"])

	_, err := m.List(ctx)
	require.NoError(t, err)
	_, err = m.Services(ctx, "12345")
	require.NoError(t, err)

	info = m.CacheInfo()
	assert.Equal(t, util.ShortHash("token-one"), info["current_token"])

	inst = info["installations_cache"].(map[string]any)
	assert.Equal(t, true, inst["valid"])
	assert.Equal(t, DefaultInstallationsTTL.Seconds(), inst["ttl_seconds"])

	svcs := info["services_cache"].(map[string]any)
	assert.Equal(t, []string{"12345"}, svcs["cached_installations"])
	entry := svcs["entries"].(map[string]any)["12345"].(map[string]any)
	assert.Equal(t, true, entry["valid"])

	// A new token makes every recorded entry invalid without purging it.
	client.SetHash("token-two")
	info = m.CacheInfo()
	inst = info["installations_cache"].(map[string]any)
	assert.Equal(t, false, inst["valid"])
	entry = info["services_cache"].(map[string]any)["entries"].(map[string]any)["12345"].(map[string]any)
	assert.Equal(t, false, entry["valid"])
}

func newDiskManager(t *testing.T, client *graphql.Client, dir string) *Manager {
	t.Helper()

	instCache, err := cache.NewDiskCache[[]Installation](dir)
	require.NoError(t, err)
	svcCache, err := cache.NewDiskCache[*Services](dir)
	require.NoError(t, err)

	return NewManager(client,
		WithCaches(instCache, svcCache),
		WithLogger(discardLogger()),
	)
}

func TestDiskCacheSurvivesRestart(t *testing.T) {
	stub := newVendorStub()
	client := newTestClient(t, stub)
	dir := t.TempDir()
	ctx := context.Background()

	m1 := newDiskManager(t, client, dir)
	list, err := m1.List(ctx)
	require.NoError(t, err)
	svc, err := m1.Services(ctx, "12345")
	require.NoError(t, err)

	short := util.ShortHash("token-one")
	assert.FileExists(t, filepath.Join(dir, "installations_"+short+".json"))
	assert.FileExists(t, filepath.Join(dir, "services_"+short+"_12345.json"))

	// A fresh manager over the same directory and token reads both
	// entries from disk without touching the network.
	m2 := newDiskManager(t, client, dir)
	list2, err := m2.List(ctx)
	require.NoError(t, err)
	svc2, err := m2.Services(ctx, "12345")
	require.NoError(t, err)

	assert.Equal(t, list, list2)
	assert.Equal(t, svc, svc2)
	assert.Equal(t, 1, stub.listCount())
	assert.Equal(t, 1, stub.srvCount("12345"))
}

func TestClearCacheAllRemovesDiskFiles(t *testing.T) {
	stub := newVendorStub()
	client := newTestClient(t, stub)
	dir := t.TempDir()
	ctx := context.Background()

	m := newDiskManager(t, client, dir)
	_, err := m.List(ctx)
	require.NoError(t, err)
	_, err = m.Services(ctx, "12345")
	require.NoError(t, err)

	require.NoError(t, m.ClearCache(ctx, ""))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServicesFetchErrorNotCached(t *testing.T) {
	stub := newVendorStub()
	stub.srvBodies["12345"] = respServicesKO
	m, _ := newTestManager(t, stub)
	ctx := context.Background()

	_, err := m.Services(ctx, "12345")
	require.Error(t, err)

	// After the vendor recovers the next call fetches again instead of
	// serving a cached failure.
	stub.mu.Lock()
	stub.srvBodies["12345"] = respServicesHome
	stub.mu.Unlock()

	svc, err := m.Services(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, "Home", svc.Installation.Alias)
	assert.Equal(t, 2, stub.srvCount("12345"))
}

func TestListUnauthenticatedAfterLogout(t *testing.T) {
	stub := newVendorStub()
	m, client := newTestManager(t, stub)
	ctx := context.Background()

	_, err := m.List(ctx)
	require.NoError(t, err)

	client.SetHash("")
	_, err = m.List(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = m.Services(ctx, "12345")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	err = m.ClearCache(ctx, "12345")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
