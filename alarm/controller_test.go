package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-securitas/securitas/graphql"
)

const (
	respArmOK       = `{"data":{"xSArmPanel":{"res":"OK","msg":"","referenceId":"ref-arm-1"}}}`
	respArmKO       = `{"data":{"xSArmPanel":{"res":"KO","msg":"Comando no permitido"}}}`
	respArmWait     = `{"data":{"xSArmStatus":{"res":"WAIT","msg":""}}}`
	respArmDone     = `{"data":{"xSArmStatus":{"res":"OK","msg":"Su Alarma está conectada","status":"OK","protomResponse":"T"}}}`
	respArmRejected = `{"data":{"xSArmStatus":{"res":"KO","msg":"No se pudo conectar su Alarma"}}}`

	respDisarmOK   = `{"data":{"xSDisarmPanel":{"res":"OK","msg":"","referenceId":"ref-disarm-1"}}}`
	respDisarmWait = `{"data":{"xSDisarmStatus":{"res":"WAIT","msg":""}}}`
	respDisarmDone = `{"data":{"xSDisarmStatus":{"res":"OK","msg":"Su Alarma está desconectada"}}}`
)

// panelRequest is one captured GraphQL request.
type panelRequest struct {
	class   string
	vars    map[string]any
	headers http.Header
}

// panelScript answers panel operations from per-class response queues
// and records every request it sees.
type panelScript struct {
	mu        sync.Mutex
	responses map[string][]string
	requests  []panelRequest
}

func newPanelScript() *panelScript {
	return &panelScript{responses: make(map[string][]string)}
}

func (p *panelScript) queue(class string, bodies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[class] = append(p.responses[class], bodies...)
}

func classifyPanelOp(query string) string {
	switch {
	case strings.Contains(query, "xSCheckAlarmStatus"):
		return "checkstatus"
	case strings.Contains(query, "xSCheckAlarm"):
		return "check"
	case strings.Contains(query, "xSArmPanel"):
		return "arm"
	case strings.Contains(query, "xSArmStatus"):
		return "armstatus"
	case strings.Contains(query, "xSDisarmPanel"):
		return "disarm"
	case strings.Contains(query, "xSDisarmStatus"):
		return "disarmstatus"
	default:
		return "unknown"
	}
}

func (p *panelScript) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		_ = json.Unmarshal(raw, &req)

		class := classifyPanelOp(req.Query)

		p.mu.Lock()
		p.requests = append(p.requests, panelRequest{
			class:   class,
			vars:    req.Variables,
			headers: r.Header.Clone(),
		})

		body := `{"errors":[{"message":"unexpected operation","data":{}}]}`
		if queue := p.responses[class]; len(queue) > 0 {
			body = queue[0]
			p.responses[class] = queue[1:]
		}
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func (p *panelScript) recorded() []panelRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]panelRequest(nil), p.requests...)
}

func (p *panelScript) calls(class string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.requests {
		if r.class == class {
			n++
		}
	}
	return n
}

// panelMetrics captures command and status check recordings.
type panelMetrics struct {
	mu       sync.Mutex
	commands []string
	checks   []string
}

func (m *panelMetrics) RecordAPIRequest(string, bool, time.Duration) {}
func (m *panelMetrics) RecordLogin(string)                           {}
func (m *panelMetrics) RecordOTPSent(bool)                           {}
func (m *panelMetrics) RecordOTPVerification(bool)                   {}
func (m *panelMetrics) RecordCacheLookup(string, string)             {}

func (m *panelMetrics) RecordAlarmCommand(request, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, request+":"+result)
}

func (m *panelMetrics) RecordStatusCheck(success bool, iterations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, fmt.Sprintf("%t:%d", success, iterations))
}

func (m *panelMetrics) recordedCommands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *panelMetrics) recordedChecks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.checks...)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestController(t *testing.T, script *panelScript, opts ...Option) (*Controller, *panelMetrics) {
	t.Helper()

	srv := httptest.NewServer(script.handler())
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

	client.SetUser("panel_user")
	client.SetHash("panel-token")

	rec := &panelMetrics{}
	base := []Option{
		WithPollDelay(time.Millisecond),
		WithLogger(discardLogger()),
		WithRecorder(rec),
	}
	return NewController(client, append(base, opts...)...), rec
}

func homeTarget() Target {
	return Target{InstallationID: "12345", Panel: "SDVFAST", Capabilities: "cap-token-abc"}
}

func TestArmAwaySuccess(t *testing.T) {
	script := newPanelScript()
	script.queue("arm", respArmOK)
	script.queue("armstatus", respArmWait, respArmWait, respArmDone)
	ctrl, rec := newTestController(t, script)

	res, err := ctrl.ArmAway(context.Background(), homeTarget())
	require.NoError(t, err)
	assert.Equal(t, RequestArmAway, res.Request)
	assert.Equal(t, "ref-arm-1", res.ReferenceID)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "Su Alarma está conectada", res.Message)

	reqs := script.recorded()
	require.Len(t, reqs, 4)

	submit := reqs[0]
	assert.Equal(t, "arm", submit.class)
	assert.Equal(t, "12345", submit.vars["numinst"])
	assert.Equal(t, "ARM1", submit.vars["request"])
	assert.Equal(t, "SDVFAST", submit.vars["panel"])
	assert.Equal(t, "E", submit.vars["currentStatus"])
	assert.Equal(t, false, submit.vars["armAndLock"])
	require.Contains(t, submit.vars, "forceArmingRemoteId")
	assert.Nil(t, submit.vars["forceArmingRemoteId"])

	// Installation identity also travels as headers.
	assert.Equal(t, "12345", submit.headers.Get("numinst"))
	assert.Equal(t, "SDVFAST", submit.headers.Get("panel"))
	assert.Equal(t, "cap-token-abc", submit.headers.Get("x-capabilities"))

	for i, req := range reqs[1:] {
		assert.Equal(t, "armstatus", req.class)
		assert.Equal(t, float64(i+1), req.vars["counter"])
		assert.Equal(t, "ref-arm-1", req.vars["referenceId"])
		assert.NotContains(t, req.vars, "currentStatus")
	}

	assert.Equal(t, []string{"ARM1:success"}, rec.recordedCommands())
}

func TestArmRequestsPerMode(t *testing.T) {
	tests := []struct {
		name    string
		arm     func(*Controller, context.Context, Target) (*Result, error)
		request string
	}{
		{"home", (*Controller).ArmHome, RequestArmHome},
		{"night", (*Controller).ArmNight, RequestArmNight},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			script := newPanelScript()
			script.queue("arm", respArmOK)
			script.queue("armstatus", respArmDone)
			ctrl, _ := newTestController(t, script)

			res, err := tc.arm(ctrl, context.Background(), homeTarget())
			require.NoError(t, err)
			assert.Equal(t, tc.request, res.Request)

			reqs := script.recorded()
			require.NotEmpty(t, reqs)
			assert.Equal(t, tc.request, reqs[0].vars["request"])
		})
	}
}

func TestArmRejectedOnSubmit(t *testing.T) {
	script := newPanelScript()
	script.queue("arm", respArmKO)
	ctrl, rec := newTestController(t, script)

	_, err := ctrl.ArmAway(context.Background(), homeTarget())
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "Comando no permitido")
	assert.Equal(t, 0, script.calls("armstatus"))
	assert.Equal(t, []string{"ARM1:failure"}, rec.recordedCommands())
}

func TestArmRejectedDuringPoll(t *testing.T) {
	script := newPanelScript()
	script.queue("arm", respArmOK)
	script.queue("armstatus", respArmWait, respArmRejected)
	ctrl, _ := newTestController(t, script)

	_, err := ctrl.ArmAway(context.Background(), homeTarget())
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "No se pudo conectar su Alarma")
}

func TestArmPollTimeout(t *testing.T) {
	script := newPanelScript()
	script.queue("arm", respArmOK)
	for i := 0; i < commandPollLimit; i++ {
		script.queue("armstatus", respArmWait)
	}
	ctrl, rec := newTestController(t, script)

	_, err := ctrl.ArmAway(context.Background(), homeTarget())
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Equal(t, commandPollLimit, script.calls("armstatus"))
	assert.Equal(t, []string{"ARM1:timeout"}, rec.recordedCommands())
}

func TestArmCancelledDuringWait(t *testing.T) {
	script := newPanelScript()
	script.queue("arm", respArmOK)
	for i := 0; i < commandPollLimit; i++ {
		script.queue("armstatus", respArmWait)
	}
	ctrl, _ := newTestController(t, script, WithPollDelay(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ctrl.ArmAway(ctx, homeTarget())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, script.calls("armstatus"), commandPollLimit)
}

func TestDisarmSuccess(t *testing.T) {
	script := newPanelScript()
	script.queue("disarm", respDisarmOK)
	script.queue("disarmstatus", respDisarmWait, respDisarmDone)
	ctrl, rec := newTestController(t, script)

	res, err := ctrl.Disarm(context.Background(), homeTarget())
	require.NoError(t, err)
	assert.Equal(t, RequestDisarm, res.Request)
	assert.Equal(t, "ref-disarm-1", res.ReferenceID)
	assert.Equal(t, 2, res.Attempts)

	reqs := script.recorded()
	require.Len(t, reqs, 3)

	submit := reqs[0]
	assert.Equal(t, "disarm", submit.class)
	assert.Equal(t, "DARM1", submit.vars["request"])
	assert.NotContains(t, submit.vars, "currentStatus")
	assert.NotContains(t, submit.vars, "armAndLock")

	poll := reqs[1]
	assert.Equal(t, "disarmstatus", poll.class)
	assert.Equal(t, "DARM1", poll.vars["request"])
	assert.Equal(t, float64(1), poll.vars["counter"])
	assert.NotContains(t, poll.vars, "armAndLock")

	assert.Equal(t, []string{"DARM1:success"}, rec.recordedCommands())
}

func TestCommandGuards(t *testing.T) {
	script := newPanelScript()
	ctrl, _ := newTestController(t, script)

	_, err := ctrl.ArmAway(context.Background(), Target{})
	assert.ErrorIs(t, err, ErrMissingID)

	// Without a session token nothing reaches the wire.
	script2 := newPanelScript()
	ctrl2, _ := newTestController(t, script2)
	ctrl2.client.SetHash("")
	_, err = ctrl2.Disarm(context.Background(), homeTarget())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, script2.recorded())
}

func TestPanelFallbacks(t *testing.T) {
	script := newPanelScript()
	script.queue("arm", respArmOK)
	script.queue("armstatus", respArmDone)
	ctrl, _ := newTestController(t, script)

	_, err := ctrl.ArmAway(context.Background(), Target{InstallationID: "12345"})
	require.NoError(t, err)

	reqs := script.recorded()
	require.NotEmpty(t, reqs)
	assert.Equal(t, DefaultPanel, reqs[0].vars["panel"])
	assert.Equal(t, DefaultPanel, reqs[0].headers.Get("panel"))
	assert.Equal(t, DefaultCapabilities, reqs[0].headers.Get("x-capabilities"))
}

func TestSubmitWithoutReferenceID(t *testing.T) {
	script := newPanelScript()
	script.queue("arm", `{"data":{"xSArmPanel":{"res":"OK","msg":"accepted"}}}`)
	ctrl, _ := newTestController(t, script)

	_, err := ctrl.ArmAway(context.Background(), homeTarget())
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, 0, script.calls("armstatus"))
}
