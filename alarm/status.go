package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-securitas/securitas/graphql"
)

// InternalStatus reports the interior alarm classes.
type InternalStatus struct {
	Day   bool `json:"day"`
	Night bool `json:"night"`
	Total bool `json:"total"`
}

// Status is the panel's alarm reading, derived from the vendor's free
// text status message.
type Status struct {
	Internal  InternalStatus `json:"internal"`
	External  bool           `json:"external"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Armed reports whether any alarm class is active.
func (s *Status) Armed() bool {
	return s.Internal.Day || s.Internal.Night || s.Internal.Total || s.External
}

// Status reads the panel's current alarm state. A CheckAlarm query
// yields a reference id, then the status is polled until the panel
// answers with its free-text message, which the phrase table turns into
// per-class flags.
func (c *Controller) Status(ctx context.Context, target Target) (*Status, error) {
	target, err := c.prepare(target)
	if err != nil {
		return nil, err
	}

	refID, err := c.checkAlarm(ctx, target)
	if err != nil {
		c.recorder.RecordStatusCheck(false, 0)
		return nil, err
	}

	msg, iterations, err := c.pollStatus(ctx, target, refID)
	c.recorder.RecordStatusCheck(err == nil, iterations)
	if err != nil {
		return nil, err
	}

	status := c.phrases.Match(msg)
	c.logger.Printf("alarm: installation %s status %q (day=%t night=%t total=%t external=%t)",
		target.InstallationID, msg,
		status.Internal.Day, status.Internal.Night, status.Internal.Total, status.External)
	return &status, nil
}

func (c *Controller) checkAlarm(ctx context.Context, target Target) (string, error) {
	resp, err := c.client.Execute(ctx, &graphql.Request{
		Op:    graphql.OpCheckAlarm,
		Query: graphql.CheckAlarmQuery,
		Variables: map[string]any{
			"numinst": target.InstallationID,
			"panel":   target.Panel,
		},
	})
	if err != nil {
		return "", fmt.Errorf("alarm: check alarm: %w", err)
	}
	if resp.HasErrors() {
		return "", fmt.Errorf("%w: %s", ErrStatusFailed, resp.ErrorMessage())
	}

	var payload struct {
		Check *commandData `json:"xSCheckAlarm"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return "", fmt.Errorf("alarm: check alarm: %w", err)
	}
	if payload.Check == nil {
		return "", fmt.Errorf("%w: no response data", ErrStatusFailed)
	}
	if payload.Check.Res != graphql.ResOK {
		return "", fmt.Errorf("%w: %s", ErrStatusFailed, orUnknown(payload.Check.Msg))
	}
	if payload.Check.ReferenceID == "" {
		return "", fmt.Errorf("%w: no reference id", ErrStatusFailed)
	}
	return payload.Check.ReferenceID, nil
}

// statusData is the payload of the real-time status poll.
type statusData struct {
	Res                string `json:"res"`
	Msg                string `json:"msg"`
	Status             string `json:"status"`
	ProtomResponse     string `json:"protomResponse"`
	ProtomResponseDate string `json:"protomResponseDate"`
	ForcedArmed        bool   `json:"forcedArmed"`
}

// pollStatus polls the alarm status check until the panel answers. OK
// and KO both carry the panel message; only WAIT keeps the loop going.
func (c *Controller) pollStatus(ctx context.Context, target Target, refID string) (string, int, error) {
	for i := 1; i <= statusPollLimit; i++ {
		resp, err := c.client.Execute(ctx, &graphql.Request{
			Op:    graphql.OpCheckAlarmStatus,
			Query: graphql.CheckAlarmStatusQuery,
			Variables: map[string]any{
				"numinst":     target.InstallationID,
				"panel":       target.Panel,
				"idService":   StatusServiceID,
				"referenceId": refID,
			},
		})
		if err != nil {
			return "", i, fmt.Errorf("alarm: status poll: %w", err)
		}
		if resp.HasErrors() {
			return "", i, fmt.Errorf("%w: %s", ErrStatusFailed, resp.ErrorMessage())
		}

		var payload struct {
			Status *statusData `json:"xSCheckAlarmStatus"`
		}
		if err := resp.DecodeData(&payload); err != nil {
			return "", i, fmt.Errorf("alarm: status poll: %w", err)
		}
		if payload.Status == nil {
			return "", i, fmt.Errorf("%w: no response data", ErrStatusFailed)
		}

		if payload.Status.Res == graphql.ResWait {
			if i < statusPollLimit {
				if err := sleepCtx(ctx, c.pollDelay); err != nil {
					return "", i, err
				}
			}
			continue
		}
		return payload.Status.Msg, i, nil
	}
	return "", statusPollLimit, ErrStatusTimeout
}
