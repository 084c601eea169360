package realtime

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultWSBaseURL is the production realtime WebSocket endpoint.
const DefaultWSBaseURL = "wss://api.openai.com/v1/realtime"

// EphemeralSession is a short-lived realtime credential minted server-side.
// The relay hands ClientSecret to the upstream dial instead of exposing the
// long-lived API key to per-user connections.
type EphemeralSession struct {
	// ClientSecret is the bearer token for one realtime connection.
	ClientSecret string

	// ExpiresAt is when the secret stops being accepted for new dials.
	ExpiresAt time.Time
}

// Minter creates ephemeral realtime sessions via the OpenAI REST API.
type Minter struct {
	client openai.Client
}

// NewMinter creates a Minter authenticated with apiKey. Additional request
// options (base URL overrides, custom HTTP clients) pass through to the SDK.
func NewMinter(apiKey string, opts ...option.RequestOption) *Minter {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Minter{client: openai.NewClient(reqOpts...)}
}

// mintParams is the request body for POST /v1/realtime/sessions.
type mintParams struct {
	Model string `json:"model"`
}

// mintResponse holds the fields of the session-create response the relay
// cares about; the endpoint returns more, which is ignored.
type mintResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Mint creates an ephemeral session for model and returns its client secret.
// The pinned SDK has no typed realtime surface, so the session endpoint is
// called through the client's raw request support.
func (m *Minter) Mint(ctx context.Context, model string) (*EphemeralSession, error) {
	var resp mintResponse
	err := m.client.Post(ctx, "/realtime/sessions", mintParams{Model: model}, &resp,
		option.WithHeader("OpenAI-Beta", "realtime=v1"))
	if err != nil {
		return nil, fmt.Errorf("realtime: mint ephemeral session: %w", err)
	}
	if resp.ClientSecret.Value == "" {
		return nil, fmt.Errorf("realtime: ephemeral session has no client secret")
	}
	return &EphemeralSession{
		ClientSecret: resp.ClientSecret.Value,
		ExpiresAt:    time.Unix(resp.ClientSecret.ExpiresAt, 0),
	}, nil
}

// WebSocketURL derives the realtime WebSocket URL for model from an HTTP(S)
// API base URL. An empty base yields the production endpoint.
func WebSocketURL(apiBaseURL, model string) (string, error) {
	base := DefaultWSBaseURL
	if apiBaseURL != "" {
		u, err := url.Parse(apiBaseURL)
		if err != nil {
			return "", fmt.Errorf("realtime: parse base URL: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		case "ws", "wss":
			// already a WebSocket URL
		default:
			return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/realtime"
		base = u.String()
	}
	return base + "?model=" + url.QueryEscape(model), nil
}
