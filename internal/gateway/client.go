// Package gateway implements the outbound HTTP client (C4 Signal
// Client) and the long-lived WebSocket receive loop (C7 Receive Loop)
// against a Signal REST/WebSocket gateway such as signal-cli-rest-api.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/signalbridge/internal/archive"
	"github.com/nugget/signalbridge/internal/httpkit"
)

// Archiver enqueues an outbound message record for durable storage.
// Satisfied by *archive.Writer.
type Archiver interface {
	Enqueue(ctx context.Context, record archive.MessageRecord) error
}

// Client performs the gateway's three outbound operations and the
// group-list fetch used by the group resolver.
type Client struct {
	baseURL  string // e.g. "http://signal-cli:8080"
	account  string
	http     *http.Client
	logger   *slog.Logger
	archiver Archiver
}

// New builds a Client against endpoint (host:port, no scheme) for
// account. httpClient should come from internal/httpkit so timeouts,
// connection pooling, and the User-Agent header stay consistent with
// the rest of the bridge. archiver receives one outbound MessageRecord
// per successful SendMessage call.
func New(endpoint, account string, httpClient *http.Client, archiver Archiver, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	return &Client{
		baseURL:  "http://" + endpoint,
		account:  account,
		http:     httpClient,
		archiver: archiver,
		logger:   logger,
	}
}

// sendRequest struct mirrors the gateway's /v2/send body.
type sendRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

// sendResponse carries the gateway's assigned message timestamp. The
// gateway may return it as either a JSON number or a numeric string,
// so it is decoded manually in SendMessage rather than via a typed
// field.
type sendResponse struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// SendResult is the outcome of a successful SendMessage call.
type SendResult struct {
	Timestamp int64
}

// recipientRequest mirrors the /v1/typing-indicator body, shared by
// IndicateTyping and HideIndicator.
type recipientRequest struct {
	Recipient string `json:"recipient"`
}

// SendMessage posts a message to the gateway. recipient is the
// resolved public group id for group conversations, otherwise the
// sender's identifier, per spec §4.4. source is the original sender's
// identifier and groupChat the resolved group id (nil for 1:1) — both
// are used only for the outbound archival record this call performs
// on success.
//
// The outbound archival record's target is always source, never
// groupChat, even for group conversations. This reproduces the
// gateway-observed behavior described in spec §9's Open Questions
// rather than "fixing" it; see DESIGN.md for the decision record.
func (c *Client) SendMessage(ctx context.Context, message, recipient, source string, groupChat *string) (*SendResult, error) {
	body, err := json.Marshal(sendRequest{
		Message:    message,
		Number:     c.account,
		Recipients: []string{recipient},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/v2/send", body)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}

	ts, err := parseTimestamp(parsed.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse send response timestamp: %w", err)
	}

	if c.archiver != nil {
		record := archive.MessageRecord{
			Timestamp:               time.Now().UTC(),
			SignalReceivedTimestamp: time.UnixMilli(ts).UTC(),
			Target:                  source,
			Source:                  c.account,
			GroupChat:               groupChat,
			Content:                 &message,
			CreatedAt:               time.Now().UTC(),
		}
		if err := c.archiver.Enqueue(ctx, record); err != nil {
			c.logger.Error("gateway: outbound archive enqueue failed, continuing", "error", err)
		}
	}

	return &SendResult{Timestamp: ts}, nil
}

// IndicateTyping sets the typing indicator for recipient. Failures are
// fire-and-acknowledge: the caller logs and continues, per spec §4.8
// step 7 and §7.
func (c *Client) IndicateTyping(ctx context.Context, recipient string) error {
	body, err := json.Marshal(recipientRequest{Recipient: recipient})
	if err != nil {
		return fmt.Errorf("marshal typing request: %w", err)
	}
	resp, err := c.doJSON(ctx, http.MethodPut, "/v1/typing-indicator/"+c.account, body)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 1024)
	return nil
}

// HideIndicator clears the typing indicator for recipient.
func (c *Client) HideIndicator(ctx context.Context, recipient string) error {
	body, err := json.Marshal(recipientRequest{Recipient: recipient})
	if err != nil {
		return fmt.Errorf("marshal typing request: %w", err)
	}
	resp, err := c.doJSON(ctx, http.MethodDelete, "/v1/typing-indicator/"+c.account, body)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 1024)
	return nil
}

// groupDescriptor mirrors one element of the gateway's
// /v1/groups/{account} response.
type groupDescriptor struct {
	InternalID string `json:"internal_id"`
	ID         string `json:"id"`
}

// FetchGroupID implements groupcache.Fetcher: it fetches the full
// group list for account and returns the public id of the first
// descriptor whose internal id matches internalID and whose id is
// non-empty.
func (c *Client) FetchGroupID(ctx context.Context, account, internalID string) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/groups/"+account, nil)
	if err != nil {
		return "", err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	var groups []groupDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return "", fmt.Errorf("decode group list: %w", err)
	}

	for _, g := range groups {
		if g.InternalID == internalID && g.ID != "" {
			return g.ID, nil
		}
	}

	return "", fmt.Errorf("no group found for internal id %s", internalID)
}

// Ping performs a lightweight reachability probe against the gateway's
// "about" endpoint. Used by the supplemented startup self-check and
// status endpoint; failures are never fatal.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/about", nil)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, errBody)
	}

	return resp, nil
}

// parseTimestamp accepts either a JSON number or a JSON string holding
// an integer, matching the gateway's observed inconsistency in how it
// serializes the send response timestamp.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var n int64
		if _, err := fmt.Sscanf(asString, "%d", &n); err != nil {
			return 0, fmt.Errorf("timestamp string %q is not numeric", asString)
		}
		return n, nil
	}

	return 0, fmt.Errorf("timestamp field is neither number nor string: %s", raw)
}
