package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DefaultUserAgent is sent when the caller does not configure one.
const DefaultUserAgent = "jobvault/0.1"

// Authenticator supplies and renews the bearer credential. The session
// coordinator provides the real implementation.
type Authenticator interface {
	// Authorize returns the access credential to attach, or
	// ErrNotAuthenticated when there is none.
	Authorize(ctx context.Context) (string, error)

	// Reauthorize is called after the server rejected the credential
	// rejected with 401. It returns a renewed credential or a terminal error.
	Reauthorize(ctx context.Context, rejected string) (string, error)
}

// Request is an immutable request descriptor. Body is a byte slice so that
// a replay after renewal sends exactly the same payload.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string // defaults to application/json when Body is non-nil
	Anonymous   bool   // no credential attached, no renewal on 401
}

// Client is an HTTP client for the job platform API. It handles request
// construction, credential attachment, a single replay after credential
// renewal, and error classification. It never retries network failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates an API client. auth may be nil, in which case only
// anonymous requests succeed.
func NewClient(
	baseURL string, httpClient *http.Client, auth Authenticator, logger *slog.Logger, userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		auth:       auth,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// WithAuthenticator returns a copy of c that authorizes requests through auth.
// The copy shares the underlying http.Client.
func (c *Client) WithAuthenticator(auth Authenticator) *Client {
	cp := *c
	cp.auth = auth

	return &cp
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes req. Non-anonymous requests get the current access credential
// attached; if none exists Do returns ErrNotAuthenticated without touching the
// network. A 401 on the first attempt triggers exactly one renewal and one
// replay. The caller closes the response body on success.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	var token string

	if !req.Anonymous {
		if c.auth == nil {
			return nil, ErrNotAuthenticated
		}

		tok, err := c.auth.Authorize(ctx)
		if err != nil {
			return nil, err
		}

		token = tok
	}

	return c.do(ctx, req, token, 0)
}

// do sends one attempt. attempt counts previous sends of the same request;
// only attempt 0 may trigger a renewal.
func (c *Client) do(ctx context.Context, req Request, token string, attempt int) (*http.Response, error) {
	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt),
		)

		return resp, nil
	}

	apiErr := readError(resp)

	if resp.StatusCode == http.StatusUnauthorized && !req.Anonymous && attempt == 0 {
		c.logger.Info("credential rejected, renewing",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
		)

		renewed, rerr := c.auth.Reauthorize(ctx, token)
		if rerr != nil {
			return nil, fmt.Errorf("api: %s %s: %w", req.Method, req.Path, rerr)
		}

		return c.do(ctx, req, renewed, attempt+1)
	}

	if attempt > 0 {
		c.logger.Warn("replayed request failed",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", apiErr.StatusCode),
		)
	} else {
		c.logger.Debug("request failed",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", apiErr.StatusCode),
		)
	}

	return nil, apiErr
}

// send builds and executes a single HTTP request.
func (c *Client) send(ctx context.Context, req Request, token string) (*http.Response, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	httpReq.Header.Set("Accept", "application/json")

	switch {
	case req.ContentType != "":
		httpReq.Header.Set("Content-Type", req.ContentType)
	case req.Body != nil:
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Context cancellation is reported as such, not as a network error.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
		}

		c.logger.Warn("request failed at transport level",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("api: %s %s: %w: %w", req.Method, req.Path, ErrNetwork, err)
	}

	return resp, nil
}

// readError drains and closes resp.Body and builds the classified error.
func readError(resp *http.Response) *APIError {
	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = resp.Header.Get("request-id")
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
		Message:    errorMessage(resp.StatusCode, errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// jsonRequest builds a Request with body marshaled as JSON. A nil body
// produces a request without a payload.
func jsonRequest(method, path string, body any) (Request, error) {
	req := Request{Method: method, Path: path}

	if body == nil {
		return req, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("api: encoding %s %s body: %w", method, path, err)
	}

	req.Body = data

	return req, nil
}

// doJSON executes req and decodes the JSON response into out (which may be
// nil to discard the body).
func (c *Client) doJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("api: decoding %s %s response: empty body", req.Method, req.Path)
		}

		return fmt.Errorf("api: decoding %s %s response: %w", req.Method, req.Path, err)
	}

	return nil
}

// messageResponse is the {"message": "..."} envelope returned by
// side-effect-only endpoints.
type messageResponse struct {
	Message string `json:"message"`
}
