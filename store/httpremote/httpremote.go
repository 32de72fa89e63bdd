// Package httpremote implements the roomsync remote store contract against
// an HTTP document service exposing per-collection documents:
//
//	GET    {base}/collections/{collection}          -> list documents
//	GET    {base}/collections/{collection}/{docID}  -> fetch one document
//	PUT    {base}/collections/{collection}/{docID}  -> write one document
//	DELETE {base}/collections/{collection}/{docID}  -> delete one document
//
// Calls are retried up to a fixed cap with linearly increasing delay. A
// permission-denied response is never retried; it disables the remote tier
// for the remainder of the process lifetime.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	syncErrors "github.com/roomsync/roomsync/errors"
	"github.com/roomsync/roomsync/logging"
	"github.com/roomsync/roomsync/store"
)

// Limits bounds the response sizes accepted from the service.
type Limits struct {
	MaxBodyBytes int64 // Maximum response body size in bytes
}

// Client implements store.Remote over HTTP.
type Client struct {
	baseURL     string
	http        *http.Client
	limits      Limits
	maxRetries  int
	retryDelay  time.Duration
	logger      *logging.Logger
	unavailable atomic.Bool
}

var _ store.Remote = (*Client)(nil)

// Option configures a Client using the functional options pattern.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) { c.http = cl }
}

// WithLimits sets the response size limits.
func WithLimits(l Limits) Option {
	return func(c *Client) { c.limits = l }
}

// WithRetry sets the retry cap and base delay. The delay grows linearly:
// delay, 2*delay, 3*delay, ...
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a remote store client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		limits:     Limits{MaxBodyBytes: 8 << 20}, // 8MB
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     logging.Default().WithComponent("remote-store"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Available reports whether the remote tier can currently be used.
func (c *Client) Available() bool {
	return !c.unavailable.Load()
}

// Disable turns the remote tier off for the remainder of the process
// lifetime.
func (c *Client) Disable() {
	if c.unavailable.CompareAndSwap(false, true) {
		c.logger.Warn("remote tier disabled, falling back to local store only")
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Get fetches a single document.
func (c *Client) Get(ctx context.Context, collection, docID string) (store.Document, bool, error) {
	var doc store.Document
	var found bool

	err := c.withRetry(ctx, syncErrors.OpPull, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(collection, docID), nil)
		if err != nil {
			return syncErrors.New(syncErrors.OpPull, err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return syncErrors.NewNetworkError(syncErrors.OpPull, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil
		case resp.StatusCode == http.StatusForbidden:
			return syncErrors.NewPermissionError(syncErrors.OpPull, statusError(resp))
		case resp.StatusCode != http.StatusOK:
			return syncErrors.NewNetworkError(syncErrors.OpPull, statusError(resp))
		}

		body := io.LimitReader(resp.Body, c.limits.MaxBodyBytes)
		if err := json.NewDecoder(body).Decode(&doc); err != nil {
			return syncErrors.NewValidationError(syncErrors.OpPull, fmt.Errorf("decoding document %s/%s: %w", collection, docID, err))
		}
		found = true
		return nil
	})
	if err != nil {
		return store.Document{}, false, err
	}
	return doc, found, nil
}

// Set writes a single document.
func (c *Client) Set(ctx context.Context, collection, docID string, doc store.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpPush, err)
	}

	return c.withRetry(ctx, syncErrors.OpPush, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.docURL(collection, docID), bytes.NewReader(payload))
		if err != nil {
			return syncErrors.New(syncErrors.OpPush, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return syncErrors.NewNetworkError(syncErrors.OpPush, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, c.limits.MaxBodyBytes))

		switch {
		case resp.StatusCode == http.StatusForbidden:
			return syncErrors.NewPermissionError(syncErrors.OpPush, statusError(resp))
		case resp.StatusCode >= 300:
			return syncErrors.NewNetworkError(syncErrors.OpPush, statusError(resp))
		}
		return nil
	})
}

// Delete removes a single document. Deleting an absent document succeeds.
func (c *Client) Delete(ctx context.Context, collection, docID string) error {
	return c.withRetry(ctx, syncErrors.OpPush, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.docURL(collection, docID), nil)
		if err != nil {
			return syncErrors.New(syncErrors.OpPush, err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return syncErrors.NewNetworkError(syncErrors.OpPush, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, c.limits.MaxBodyBytes))

		switch {
		case resp.StatusCode == http.StatusForbidden:
			return syncErrors.NewPermissionError(syncErrors.OpPush, statusError(resp))
		case resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound:
			return syncErrors.NewNetworkError(syncErrors.OpPush, statusError(resp))
		}
		return nil
	})
}

// List returns every document in a collection.
func (c *Client) List(ctx context.Context, collection string) ([]store.Document, error) {
	var docs []store.Document

	err := c.withRetry(ctx, syncErrors.OpPull, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL(collection), nil)
		if err != nil {
			return syncErrors.New(syncErrors.OpPull, err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return syncErrors.NewNetworkError(syncErrors.OpPull, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			docs = nil
			return nil
		case resp.StatusCode == http.StatusForbidden:
			return syncErrors.NewPermissionError(syncErrors.OpPull, statusError(resp))
		case resp.StatusCode != http.StatusOK:
			return syncErrors.NewNetworkError(syncErrors.OpPull, statusError(resp))
		}

		body := io.LimitReader(resp.Body, c.limits.MaxBodyBytes)
		docs = docs[:0]
		if err := json.NewDecoder(body).Decode(&docs); err != nil {
			return syncErrors.NewValidationError(syncErrors.OpPull, fmt.Errorf("decoding collection %s: %w", collection, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// withRetry runs operation up to the retry cap with linearly increasing
// delay. Permission failures trip the circuit breaker and stop retries
// immediately.
func (c *Client) withRetry(ctx context.Context, op syncErrors.Operation, operation func() error) error {
	if !c.Available() {
		return syncErrors.NewWithComponent(op, "remote", fmt.Errorf("remote tier is disabled"))
	}

	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		if syncErrors.IsPermissionDenied(err) {
			c.Disable()
			return err
		}
		if !syncErrors.IsRetryable(err) {
			return err
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.Debug("retrying remote operation",
			"operation", string(op),
			"attempt", attempt,
			"error", err.Error(),
		)

		timer := time.NewTimer(c.retryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (c *Client) docURL(collection, docID string) string {
	return fmt.Sprintf("%s/collections/%s/%s", c.baseURL, collection, docID)
}

func (c *Client) collectionURL(collection string) string {
	return fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
}

func statusError(resp *http.Response) error {
	return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, resp.Request.URL.Path)
}
