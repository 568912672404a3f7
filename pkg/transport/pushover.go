// Package transport is the external notification transport (A5): an
// opaque HTTP client for the Pushover message API. It knows nothing about
// alert state, cooldowns, or profiles — callers pass already-rendered
// title/message strings.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/runnerd/pkg/rerr"
)

const (
	pushoverEndpoint = "https://api.pushover.net/1/messages.json"
	requestTimeout   = 12 * time.Second
	maxMessageRunes  = 1024
)

// PushoverClient sends messages via the Pushover API.
type PushoverClient struct {
	httpClient *http.Client
	endpoint   string
}

// NewPushoverClient builds a client with the standard request timeout.
func NewPushoverClient() *PushoverClient {
	return &PushoverClient{
		httpClient: &http.Client{Timeout: requestTimeout},
		endpoint:   pushoverEndpoint,
	}
}

// WithEndpoint overrides the target URL, mainly for tests against a local
// stub server.
func (c *PushoverClient) WithEndpoint(endpoint string) *PushoverClient {
	c.endpoint = endpoint
	return c
}

// Send posts one message to Pushover, clamping it to maxMessageRunes after
// trimming. Returns an error wrapping rerr.TransportFailure on any
// non-2xx response or transport failure.
func (c *PushoverClient) Send(ctx context.Context, userKey, apiToken, title, message string) error {
	clamped := ClampMessage(message)

	form := url.Values{
		"token":   {apiToken},
		"user":    {userKey},
		"title":   {title},
		"message": {clamped},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return rerr.Wrap(rerr.TransportFailure, "build pushover request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rerr.Wrap(rerr.TransportFailure, "send pushover request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rerr.New(rerr.TransportFailure, "pushover returned status "+resp.Status)
	}
	return nil
}

// ClampMessage trims whitespace and truncates to maxMessageRunes, matching
// the Pushover API's message length limit.
func ClampMessage(message string) string {
	trimmed := strings.TrimSpace(message)
	runes := []rune(trimmed)
	if len(runes) <= maxMessageRunes {
		return trimmed
	}
	return string(runes[:maxMessageRunes])
}
