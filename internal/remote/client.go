package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Retry and backoff constants for the read path. Writes are never retried
// here: the sync engine owns write retry so attempt counts and backoff
// stay durable across restarts.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	defaultTimeout = 15 * time.Second
	userAgent      = "tandem-go/0.1"
)

// forceWriteAttempts bounds the get-then-write loop in ForceUpdate and
// ForceDelete against writers racing the forced resolution.
const forceWriteAttempts = 3

// Client is an HTTP client for the Tandem document API. It handles
// request construction, authentication, read retry with exponential
// backoff, and error classification. All responses are small JSON
// documents, so bodies are buffered per attempt.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      oauth2.TokenSource
	logger     *slog.Logger
	timeout    time.Duration

	// sleepFunc is called to wait between read retries. Defaults to
	// timeSleep. Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a document API client. baseURL is the server root,
// e.g. "https://api.tandemapp.example". A nil httpClient falls back to
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, token oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		timeout:    defaultTimeout,
		sleepFunc:  timeSleep,
	}
}

// SetTimeout overrides the per-attempt request timeout (default 15s).
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// writeRequest is the body for create and update calls.
type writeRequest struct {
	Fields Fields `json:"fields"`
}

// errorBody is the JSON error envelope the API returns on failures.
type errorBody struct {
	Error string `json:"error"`
}

// Healthz probes the server's health endpoint with a single attempt.
// The network monitor owns probe cadence, so no retry here.
func (c *Client) Healthz(ctx context.Context) error {
	resp, err := c.doOnce(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}

	if resp.status < http.StatusOK || resp.status >= http.StatusMultipleChoices {
		return c.apiError(resp)
	}

	return nil
}

// Get fetches the current document. Retries transient failures with
// exponential backoff. Returns ErrNotFound (wrapped) when the document
// does not exist; a tombstone is returned as a document with Deleted set.
func (c *Client) Get(ctx context.Context, collection, id string) (*Document, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, docPath(collection, id), nil, nil)
	if err != nil {
		return nil, err
	}

	return decodeDocument(resp.body)
}

// Create writes a brand-new document with the client-generated ID.
// If the document already exists the server answers 409 with its current
// state, surfaced as *VersionConflictError so the resolver can treat it
// like any other stale write.
func (c *Client) Create(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	headers := map[string]string{"If-None-Match": "*"}

	resp, err := c.doWrite(ctx, http.MethodPut, docPath(collection, id), writeRequest{Fields: fields}, headers)
	if err != nil {
		return nil, err
	}

	return decodeDocument(resp.body)
}

// Update writes changed fields on top of baseVersion. The server rejects
// the write with 412 when its version differs, and the response body
// carries the current document (surfaced as *VersionConflictError).
func (c *Client) Update(ctx context.Context, collection, id string, fields Fields, baseVersion int64) (*Document, error) {
	headers := map[string]string{"If-Match": versionETag(baseVersion)}

	resp, err := c.doWrite(ctx, http.MethodPut, docPath(collection, id), writeRequest{Fields: fields}, headers)
	if err != nil {
		return nil, err
	}

	return decodeDocument(resp.body)
}

// Delete tombstones the document at baseVersion. Returns the tombstone so
// callers can record the final version. Version conflicts surface as
// *VersionConflictError, same as Update.
func (c *Client) Delete(ctx context.Context, collection, id string, baseVersion int64) (*Document, error) {
	headers := map[string]string{"If-Match": versionETag(baseVersion)}

	resp, err := c.doWrite(ctx, http.MethodDelete, docPath(collection, id), nil, headers)
	if err != nil {
		return nil, err
	}

	return decodeDocument(resp.body)
}

// ForceUpdate writes fields regardless of intervening versions: it reads
// the current version and retries the conditional write against racing
// writers, bounded by forceWriteAttempts. Used by keep-local conflict
// resolution.
func (c *Client) ForceUpdate(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	var lastErr error

	for attempt := 0; attempt < forceWriteAttempts; attempt++ {
		cur, err := c.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}

		doc, err := c.Update(ctx, collection, id, fields, cur.Version)
		if err == nil {
			return doc, nil
		}

		var vc *VersionConflictError
		if !errors.As(err, &vc) {
			return nil, err
		}

		lastErr = err
		c.logger.Debug("forced update raced a concurrent writer, refetching",
			slog.String("collection", collection),
			slog.String("id", id),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, fmt.Errorf("remote: forced update lost %d races: %w", forceWriteAttempts, lastErr)
}

// ForceDelete tombstones the document regardless of intervening versions,
// with the same bounded get-then-write loop as ForceUpdate.
func (c *Client) ForceDelete(ctx context.Context, collection, id string) (*Document, error) {
	var lastErr error

	for attempt := 0; attempt < forceWriteAttempts; attempt++ {
		cur, err := c.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}

		doc, err := c.Delete(ctx, collection, id, cur.Version)
		if err == nil {
			return doc, nil
		}

		var vc *VersionConflictError
		if !errors.As(err, &vc) {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("remote: forced delete lost %d races: %w", forceWriteAttempts, lastErr)
}

// docPath builds the API path for one document.
func docPath(collection, id string) string {
	return "/v1/" + collection + "/" + id
}

// versionETag renders a base version as the If-Match entity tag, e.g. `"v4"`.
func versionETag(version int64) string {
	return `"v` + strconv.FormatInt(version, 10) + `"`
}

func decodeDocument(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("remote: decoding document: %w", err)
	}

	return &doc, nil
}

// response is one fully-read HTTP exchange.
type response struct {
	status int
	header http.Header
	body   []byte
}

// doRetry executes a request with the read retry policy: network errors
// and retryable statuses back off exponentially up to maxRetries, honoring
// Retry-After on 429.
func (c *Client) doRetry(ctx context.Context, method, path string, payload any, headers map[string]string) (*response, error) {
	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, path, payload, headers)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after transport error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("remote: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("remote: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		// 2xx is success.
		if resp.status >= http.StatusOK && resp.status < http.StatusMultipleChoices {
			return resp, nil
		}

		if isRetryableStatus(resp.status) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.status),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, c.apiError(resp)
	}
}

// doWrite executes a single write attempt. 412 (stale If-Match) and 409
// (create target exists) parse the body as the server's current document
// and surface *VersionConflictError.
func (c *Client) doWrite(ctx context.Context, method, path string, payload any, headers map[string]string) (*response, error) {
	resp, err := c.doOnce(ctx, method, path, payload, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
		}

		return nil, err
	}

	if resp.status >= http.StatusOK && resp.status < http.StatusMultipleChoices {
		return resp, nil
	}

	if resp.status == http.StatusPreconditionFailed || resp.status == http.StatusConflict {
		return nil, c.conflictError(resp)
	}

	return nil, c.apiError(resp)
}

// doOnce executes a single HTTP attempt with the per-attempt timeout,
// reading and closing the body before returning. Transport failures map
// to the ErrTimeout / ErrNetwork sentinels.
func (c *Client) doOnce(ctx context.Context, method, path string, payload any, headers map[string]string) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remote: encoding request: %w", err)
		}

		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("remote: obtaining token: %w", err)
		}

		tok.SetAuthHeader(req)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: raw}, nil
}

// transportError maps a transport failure onto the timeout/network
// sentinels. Parent context cancellation passes through untouched so the
// caller can distinguish user aborts from flaky networks.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// apiError builds the APIError for a non-retryable error response.
func (c *Client) apiError(resp *response) error {
	msg := string(resp.body)

	var eb errorBody
	if err := json.Unmarshal(resp.body, &eb); err == nil && eb.Error != "" {
		msg = eb.Error
	}

	return &APIError{
		StatusCode: resp.status,
		RequestID:  resp.header.Get("X-Request-Id"),
		Message:    msg,
		Err:        classifyStatus(resp.status),
	}
}

// conflictError parses the server's current document out of a 412/409
// response body. A missing or malformed body still yields a conflict
// error, just without the snapshot.
func (c *Client) conflictError(resp *response) error {
	doc, err := decodeDocument(resp.body)
	if err != nil || doc.ID == "" {
		c.logger.Debug("version conflict response had no document body",
			slog.Int("status", resp.status),
		)

		return &VersionConflictError{}
	}

	return &VersionConflictError{Remote: doc}
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *response, attempt int) time.Duration {
	if resp.status == http.StatusTooManyRequests {
		if ra := resp.header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
