// Package assistant implements the outbound HTTP call to the
// conversational assistant webhook (C5 Assistant Client).
package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nugget/signalbridge/internal/httpkit"
)

// Client calls a single assistant webhook URL, authenticated with a
// static bearer token transmitted as HTTP Basic auth per spec §4.5.
type Client struct {
	webhookURL string
	authToken  string
	http       *http.Client
}

// New builds a Client posting to webhookURL with authToken encoded as
// Basic auth. httpClient should come from internal/httpkit.
func New(webhookURL, authToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	return &Client{webhookURL: webhookURL, authToken: authToken, http: httpClient}
}

type askRequest struct {
	ChatInput string `json:"chatInput"`
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// Ask sends message to the assistant webhook as the named conversation
// (userID is the resolved public group id for groups, else the
// sender's source — the caller decides which per spec §4.5) and
// returns the reply text verbatim. A non-2xx response is an error.
func (c *Client) Ask(ctx context.Context, message, userID string) (string, error) {
	body, err := json.Marshal(askRequest{
		ChatInput: message,
		Action:    "sendMessage",
		SessionID: "intelligence-" + userID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal assistant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.authToken)))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return "", fmt.Errorf("assistant webhook: status %d: %s", resp.StatusCode, errBody)
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read assistant reply: %w", err)
	}

	return string(reply), nil
}
