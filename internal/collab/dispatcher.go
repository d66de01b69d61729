// Package collab forwards page-bridge actions to an external collaborator
// service (breach check, URL allowlists).
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/piiguard/internal/reliability"
)

// Action names a collaborator operation.
type Action string

const (
	ActionCheckBreach      Action = "check-breach"
	ActionAllowlist        Action = "allowlist"
	ActionRemoveURL        Action = "remove-url"
	ActionGetAllowlist     Action = "get-allowlist"
	ActionGetTempAllowlist Action = "get-temp-allowlist"
	ActionProceed          Action = "proceed"
	ActionProceedTemp      Action = "proceed-temp"
	ActionRemoveTempURL    Action = "remove-temp-url"
)

var knownActions = map[Action]struct{}{
	ActionCheckBreach:      {},
	ActionAllowlist:        {},
	ActionRemoveURL:        {},
	ActionGetAllowlist:     {},
	ActionGetTempAllowlist: {},
	ActionProceed:          {},
	ActionProceedTemp:      {},
	ActionRemoveTempURL:    {},
}

var (
	ErrUnknownAction = errors.New("unknown collaborator action")
	ErrUnavailable   = errors.New("collaborator not configured")
)

// ParseAction validates s against the known actions.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(s))
	if _, ok := knownActions[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Dispatcher sends one action and returns the collaborator's reply as is.
type Dispatcher interface {
	Dispatch(ctx context.Context, action Action, payload json.RawMessage) (json.RawMessage, error)
}

type envelope struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HTTPDispatcher POSTs {action, payload} to a single endpoint.
type HTTPDispatcher struct {
	url    string
	client *http.Client
}

func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, action Action, payload json.RawMessage) (json.RawMessage, error) {
	if _, ok := knownActions[action]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if len(payload) == 0 {
		payload = nil
	}
	body, err := json.Marshal(envelope{Action: action, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &reliability.StatusError{Service: "collab", Code: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	out, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return json.RawMessage(out), nil
}

// Unavailable rejects every action with ErrUnavailable. It stands in when no
// collaborator URL is configured.
type Unavailable struct{}

func (Unavailable) Dispatch(_ context.Context, action Action, _ json.RawMessage) (json.RawMessage, error) {
	if _, ok := knownActions[action]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return nil, ErrUnavailable
}
