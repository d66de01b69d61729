package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/piiguard/internal/pii"
	"github.com/antoniostano/piiguard/internal/reliability"
)

const defaultRemoteTimeout = 5 * time.Second

// HTTPDetector posts the buffer to a remote detection service and expects
// {"entities":[{"label","index","text"}]} back.
type HTTPDetector struct {
	url    string
	client *http.Client
}

func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &HTTPDetector{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the endpoint this detector posts to.
func (d *HTTPDetector) URL() string {
	return d.url
}

func (d *HTTPDetector) Detect(ctx context.Context, text string) ([]pii.Entity, error) {
	payload, err := json.Marshal(Request{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &reliability.StatusError{Service: "detector", Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var raw struct {
		Entities *[]pii.Entity `json:"entities"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", reliability.ErrMalformedResponse, err)
	}
	if raw.Entities == nil {
		return nil, fmt.Errorf("%w: missing entities", reliability.ErrMalformedResponse)
	}
	entities := *raw.Entities
	for i, e := range entities {
		if e.Index < 0 || strings.TrimSpace(string(e.Label)) == "" {
			return nil, fmt.Errorf("%w: entity %d invalid", reliability.ErrMalformedResponse, i)
		}
	}
	return entities, nil
}
