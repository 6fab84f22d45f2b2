// Package actuation dispatches control commands to a building management
// system (BMS) over HTTP. Calls are guarded by a circuit breaker and retried
// with exponential backoff on transient transport failures. A definitive
// rejection from the BMS is never retried and never coerced into success.
package actuation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/gridmind/gridmind/internal/breaker"
	"github.com/gridmind/gridmind/internal/model"
)

// ErrActuationFailed marks a command the BMS accepted on the wire but
// refused to execute.
var ErrActuationFailed = errors.New("actuation rejected by building management system")

// Actuator executes a command against one building and reports the outcome.
type Actuator interface {
	Execute(ctx context.Context, buildingID string, cmd model.CommandSpec) (model.ExecutionResult, error)
}

// Client is the HTTP BMS actuator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	brk        *breaker.Breaker
	log        *slog.Logger
	maxRetries uint64
}

// NewClient builds a BMS client. A nil breaker runs unguarded (tests only).
func NewClient(baseURL string, brk *breaker.Breaker, lg *slog.Logger) *Client {
	if lg == nil {
		lg = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		brk:        brk,
		log:        lg,
		maxRetries: 3,
	}
}

type commandRequest struct {
	Type       model.ActionType `json:"type"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

// Execute dispatches the command. The breaker wraps the whole retry loop so
// a flapping BMS opens it once, not per attempt.
func (c *Client) Execute(ctx context.Context, buildingID string, cmd model.CommandSpec) (model.ExecutionResult, error) {
	var result model.ExecutionResult
	run := func(ctx context.Context) error {
		var err error
		result, err = c.dispatch(ctx, buildingID, cmd)
		return err
	}

	var err error
	if c.brk != nil {
		err = c.brk.Execute(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return result, err
	}
	if !result.Success {
		c.log.Warn("command_rejected", "buildingId", buildingID, "type", cmd.Type, "message", result.Message)
		return result, fmt.Errorf("%w: %s", ErrActuationFailed, result.Message)
	}
	return result, nil
}

func (c *Client) dispatch(ctx context.Context, buildingID string, cmd model.CommandSpec) (model.ExecutionResult, error) {
	var result model.ExecutionResult
	attempt := func() error {
		res, err := c.post(ctx, buildingID, cmd)
		if err != nil {
			return err
		}
		result = res
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("dispatch %s to %s: %w", cmd.Type, buildingID, err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, buildingID string, cmd model.CommandSpec) (model.ExecutionResult, error) {
	body, err := json.Marshal(commandRequest{Type: cmd.Type, Parameters: cmd.Parameters})
	if err != nil {
		return model.ExecutionResult{}, backoff.Permanent(err)
	}
	endpoint := fmt.Sprintf("%s/buildings/%s/commands", c.baseURL, url.PathEscape(buildingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return model.ExecutionResult{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return model.ExecutionResult{}, fmt.Errorf("bms status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.ExecutionResult{}, backoff.Permanent(fmt.Errorf("bms status %d: %s", resp.StatusCode, string(b)))
	}

	var result model.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("decode bms response: %w", err)
	}
	return result, nil
}

// Simulated is the local actuator used when no BMS endpoint is configured.
// Every command succeeds and receives a fresh rollback token.
type Simulated struct {
	log *slog.Logger
}

// NewSimulated builds the local actuator.
func NewSimulated(lg *slog.Logger) *Simulated {
	if lg == nil {
		lg = slog.Default()
	}
	return &Simulated{log: lg}
}

func (s *Simulated) Execute(_ context.Context, buildingID string, cmd model.CommandSpec) (model.ExecutionResult, error) {
	token := uuid.NewString()
	s.log.Info("simulated_command", "buildingId", buildingID, "type", cmd.Type, "rollbackToken", token)
	return model.ExecutionResult{
		Success:       true,
		RollbackToken: token,
		Message:       fmt.Sprintf("simulated %s accepted", cmd.Type),
	}, nil
}
