// Package alarm arms, disarms and reads the security panel. Commands
// complete asynchronously on the vendor side: a mutation returns a
// reference id, and the outcome is polled with a monotonically
// increasing counter until the panel reports OK, rejects the request or
// the counter runs out. All poll loops honor the caller's context.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-securitas/securitas/graphql"
	"github.com/go-securitas/securitas/internal/metrics"
)

// Request keywords the panel understands.
const (
	RequestArmAway  = "ARM1"
	RequestArmHome  = "PERI1"
	RequestArmNight = "ARMNIGHT1"
	RequestDisarm   = "DARM1"
)

// StatusServiceID is the service id of the real-time alarm status check.
const StatusServiceID = "EST"

// Fallback panel identity used when the installation services are
// unavailable.
const (
	DefaultPanel        = "PROTOCOL"
	DefaultCapabilities = "default_capabilities"
)

const (
	commandPollLimit = 30
	statusPollLimit  = 10
	defaultPollDelay = 5 * time.Second

	// currentStatus code sent with arm requests.
	defaultCurrentStatus = "E"
)

// Target names the installation a command is aimed at. Panel and
// Capabilities come from the installation services and fall back to the
// vendor defaults when empty.
type Target struct {
	InstallationID string
	Panel          string
	Capabilities   string
}

func (t Target) withDefaults() Target {
	if t.Panel == "" {
		t.Panel = DefaultPanel
	}
	if t.Capabilities == "" {
		t.Capabilities = DefaultCapabilities
	}
	return t
}

// Result reports a completed panel command.
type Result struct {
	Request     string `json:"request"`
	ReferenceID string `json:"reference_id"`
	Message     string `json:"message,omitempty"`
	Attempts    int    `json:"attempts"`
}

// Controller issues arm/disarm commands and status reads against the
// panel of one or more installations.
type Controller struct {
	client    *graphql.Client
	pollDelay time.Duration
	phrases   *PhraseTable
	recorder  metrics.Recorder
	logger    *log.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollDelay overrides the wait between poll attempts.
func WithPollDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollDelay = d
		}
	}
}

// WithPhrases replaces the embedded phrase table.
func WithPhrases(t *PhraseTable) Option {
	return func(c *Controller) {
		if t != nil {
			c.phrases = t
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a Controller on top of an authenticated GraphQL
// client.
func NewController(client *graphql.Client, opts ...Option) *Controller {
	c := &Controller{
		client:    client,
		pollDelay: defaultPollDelay,
		phrases:   defaultPhrases,
		recorder:  metrics.NewNoopMetrics(),
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ArmAway arms the full installation.
func (c *Controller) ArmAway(ctx context.Context, target Target) (*Result, error) {
	return c.command(ctx, target, RequestArmAway)
}

// ArmHome arms the perimeter only.
func (c *Controller) ArmHome(ctx context.Context, target Target) (*Result, error) {
	return c.command(ctx, target, RequestArmHome)
}

// ArmNight arms the night partition.
func (c *Controller) ArmNight(ctx context.Context, target Target) (*Result, error) {
	return c.command(ctx, target, RequestArmNight)
}

// Disarm disarms the installation.
func (c *Controller) Disarm(ctx context.Context, target Target) (*Result, error) {
	return c.command(ctx, target, RequestDisarm)
}

func (c *Controller) command(ctx context.Context, target Target, request string) (*Result, error) {
	target, err := c.prepare(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.run(ctx, target, request)
	c.recorder.RecordAlarmCommand(request, commandOutcome(err), time.Since(start))
	return res, err
}

func commandOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.CommandResultSuccess
	case errors.Is(err, ErrCommandTimeout):
		return metrics.CommandResultTimeout
	default:
		return metrics.CommandResultFailure
	}
}

func (c *Controller) run(ctx context.Context, target Target, request string) (*Result, error) {
	disarm := request == RequestDisarm

	refID, err := c.submit(ctx, target, request, disarm)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("alarm: %s accepted for installation %s, reference %s",
		request, target.InstallationID, refID)

	for counter := 1; counter <= commandPollLimit; counter++ {
		st, err := c.checkCommand(ctx, target, request, refID, counter, disarm)
		if err != nil {
			return nil, err
		}

		switch st.Res {
		case graphql.ResOK:
			c.logger.Printf("alarm: %s completed for installation %s after %d checks",
				request, target.InstallationID, counter)
			return &Result{
				Request:     request,
				ReferenceID: refID,
				Message:     st.Msg,
				Attempts:    counter,
			}, nil
		case graphql.ResWait:
			if counter < commandPollLimit {
				if err := sleepCtx(ctx, c.pollDelay); err != nil {
					return nil, err
				}
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrCommandFailed, orUnknown(st.Msg))
		}
	}
	return nil, ErrCommandTimeout
}

// commandData is the payload of the arm/disarm submit mutations.
type commandData struct {
	Res         string `json:"res"`
	Msg         string `json:"msg"`
	ReferenceID string `json:"referenceId"`
}

// commandStatus is the payload of the arm/disarm poll queries.
type commandStatus struct {
	Res            string `json:"res"`
	Msg            string `json:"msg"`
	Status         string `json:"status"`
	ProtomResponse string `json:"protomResponse"`
}

func (c *Controller) submit(ctx context.Context, target Target, request string, disarm bool) (string, error) {
	var req *graphql.Request
	if disarm {
		req = &graphql.Request{
			Op:    graphql.OpDisarmPanel,
			Query: graphql.DisarmPanelMutation,
			Variables: map[string]any{
				"numinst": target.InstallationID,
				"request": request,
				"panel":   target.Panel,
			},
		}
	} else {
		req = &graphql.Request{
			Op:    graphql.OpArmPanel,
			Query: graphql.ArmPanelMutation,
			Variables: map[string]any{
				"numinst":             target.InstallationID,
				"request":             request,
				"panel":               target.Panel,
				"currentStatus":       defaultCurrentStatus,
				"forceArmingRemoteId": nil,
				"armAndLock":          false,
			},
		}
	}

	resp, err := c.client.Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("alarm: %s: %w", request, err)
	}
	if resp.HasErrors() {
		return "", fmt.Errorf("%w: %s", ErrCommandFailed, resp.ErrorMessage())
	}

	var payload struct {
		Arm    *commandData `json:"xSArmPanel"`
		Disarm *commandData `json:"xSDisarmPanel"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return "", fmt.Errorf("alarm: %s: %w", request, err)
	}

	data := payload.Arm
	if disarm {
		data = payload.Disarm
	}
	if data == nil {
		return "", fmt.Errorf("%w: no response data", ErrCommandFailed)
	}
	if data.Res != graphql.ResOK || data.ReferenceID == "" {
		return "", fmt.Errorf("%w: %s", ErrCommandFailed, orUnknown(data.Msg))
	}
	return data.ReferenceID, nil
}

func (c *Controller) checkCommand(ctx context.Context, target Target, request, refID string, counter int, disarm bool) (*commandStatus, error) {
	var req *graphql.Request
	if disarm {
		req = &graphql.Request{
			Op:    graphql.OpDisarmStatus,
			Query: graphql.DisarmStatusQuery,
			Variables: map[string]any{
				"numinst":     target.InstallationID,
				"panel":       target.Panel,
				"referenceId": refID,
				"counter":     counter,
				"request":     request,
			},
		}
	} else {
		req = &graphql.Request{
			Op:    graphql.OpArmStatus,
			Query: graphql.ArmStatusQuery,
			Variables: map[string]any{
				"numinst":             target.InstallationID,
				"request":             request,
				"panel":               target.Panel,
				"referenceId":         refID,
				"counter":             counter,
				"forceArmingRemoteId": nil,
				"armAndLock":          false,
			},
		}
	}

	resp, err := c.client.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("alarm: %s status: %w", request, err)
	}
	if resp.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrCommandFailed, resp.ErrorMessage())
	}

	var payload struct {
		Arm    *commandStatus `json:"xSArmStatus"`
		Disarm *commandStatus `json:"xSDisarmStatus"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return nil, fmt.Errorf("alarm: %s status: %w", request, err)
	}

	st := payload.Arm
	if disarm {
		st = payload.Disarm
	}
	if st == nil {
		return nil, fmt.Errorf("%w: no response data", ErrCommandFailed)
	}
	return st, nil
}

// prepare validates the target, fills the panel fallbacks and pins the
// installation headers on the transport.
func (c *Controller) prepare(target Target) (Target, error) {
	if c.client.Hash() == "" {
		return target, ErrNotAuthenticated
	}
	if target.InstallationID == "" {
		return target, ErrMissingID
	}

	target = target.withDefaults()
	c.client.SetInstallation(target.InstallationID, target.Panel, target.Capabilities)
	return target, nil
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
