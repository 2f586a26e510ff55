package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/kitchensync/internal/ir"
)

// IdempotencyHeader carries the action id on delivery requests.
const IdempotencyHeader = "Idempotency-Key"

// Client is an Adapter that talks to a backend over HTTP.
//
// Routes:
//
//	POST /actions         deliver a descriptor
//	GET  /entities/{id}   fetch a remote snapshot
type Client struct {
	baseURL string
	http    *http.Client
}

var _ Adapter = (*Client)(nil)

// NewClient creates a client for baseURL. A zero timeout uses 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Deliver implements Adapter.
func (c *Client) Deliver(ctx context.Context, d ir.Descriptor) (Ack, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return Ack{}, fmt.Errorf("encode descriptor %s: %w", d.ActionID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/actions", bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, d.ActionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return Ack{}, &DeliveryError{ActionID: d.ActionID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Ack{}, &DeliveryError{
			ActionID:   d.ActionID,
			StatusCode: resp.StatusCode,
			Message:    readError(resp.Body),
		}
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, &DeliveryError{ActionID: d.ActionID, Err: fmt.Errorf("decode ack: %w", err)}
	}
	if ack.ActionID == "" {
		ack.ActionID = d.ActionID
	}
	return ack, nil
}

// FetchSnapshot implements Adapter.
func (c *Client) FetchSnapshot(ctx context.Context, entityID string) (ir.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/entities/"+url.PathEscape(entityID), nil)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("fetch snapshot %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ir.Entity{}, ErrNotFound
	default:
		return ir.Entity{}, fmt.Errorf("fetch snapshot %s: backend returned %d: %s", entityID, resp.StatusCode, readError(resp.Body))
	}

	var e ir.Entity
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return ir.Entity{}, fmt.Errorf("decode snapshot %s: %w", entityID, err)
	}
	return e, nil
}

// readError extracts the message of an ErrorResponse body, falling back to
// the raw text.
func readError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return err.Error()
	}
	var er ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		if er.Message != "" {
			return er.Error + ": " + er.Message
		}
		return er.Error
	}
	return strings.TrimSpace(string(data))
}

// IsUnavailable reports whether err is a transient backend outage.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var de *DeliveryError
	return errors.As(err, &de) && de.StatusCode == http.StatusServiceUnavailable
}
