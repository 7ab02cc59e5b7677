// Package remote is the reference delivery client: it speaks a plain JSON
// HTTP protocol to the backend and adapts it to the engine's Handler
// contract. Applications with a different API shape implement their own
// handlers; the engine only ever sees syncbox.Handler.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldlog/syncbox"
)

// DeliveryRequest is the wire envelope for one outbox item.
type DeliveryRequest struct {
	Operation      string          `json:"operation"`
	RecordID       string          `json:"record_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// DeliveryResponse is the backend's acknowledgement.
type DeliveryResponse struct {
	ServerID  string `json:"server_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Client delivers outbox items over HTTP.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	sourceID   string
	httpClient *http.Client
}

// NewClient creates a delivery client.
// sourceID is optional; if non-empty, it's sent as X-Syncbox-Source-ID for
// server-side observability.
func NewClient(baseURL, apiKey, sourceID string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		sourceID: sourceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// Handler adapts the client to the engine's Handler contract for one table.
func (c *Client) Handler(table string) syncbox.Handler {
	return func(ctx context.Context, item *syncbox.QueueItem) (string, error) {
		resp, err := c.Deliver(ctx, table, item)
		if err != nil {
			return "", err
		}
		return resp.ServerID, nil
	}
}

// Deliver sends one outbox item to the backend.
//
// HTTP 409 maps to *syncbox.ConflictError (never retried); every other
// failure, transport errors included, maps to *syncbox.DeliveryError and is
// retry-eligible. The idempotency key travels as the Idempotency-Key header
// so the backend can discard duplicate deliveries.
func (c *Client) Deliver(ctx context.Context, table string, item *syncbox.QueueItem) (*DeliveryResponse, error) {
	method, endpoint := c.route(table, item)

	body, err := json.Marshal(DeliveryRequest{
		Operation:      string(item.Operation),
		RecordID:       item.RecordID,
		IdempotencyKey: item.IdempotencyKey,
		Payload:        json.RawMessage(item.Payload),
	})
	if err != nil {
		return nil, &syncbox.DeliveryError{Table: table, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &syncbox.DeliveryError{Table: table, Err: err}
	}
	c.setHeaders(req, item.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &syncbox.DeliveryError{Table: table, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusConflict {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &syncbox.ConflictError{
			Table:    table,
			RecordID: item.RecordID,
			Detail:   truncateBody(respBody),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &syncbox.DeliveryError{
			Table:      table,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncateBody(respBody)),
		}
	}

	if resp.StatusCode == http.StatusNoContent {
		return &DeliveryResponse{}, nil
	}

	var out DeliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &syncbox.DeliveryError{Table: table, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return &out, nil
}

// route maps an operation onto the backend's REST shape.
func (c *Client) route(table string, item *syncbox.QueueItem) (method, endpoint string) {
	base := c.baseURL + "/api/v1/" + url.PathEscape(table)
	switch item.Operation {
	case syncbox.OpUpdate:
		return http.MethodPut, base + "/" + url.PathEscape(item.RecordID)
	case syncbox.OpDelete:
		return http.MethodDelete, base + "/" + url.PathEscape(item.RecordID)
	default:
		return http.MethodPost, base
	}
}

func (c *Client) setHeaders(req *http.Request, idempotencyKey string) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	req.Header.Set("User-Agent", "syncbox-client/1.0")
	if strings.TrimSpace(c.sourceID) != "" {
		req.Header.Set("X-Syncbox-Source-ID", c.sourceID)
	}
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
