package fhir

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody caps how much of a failed response is kept.
const maxErrorBody = 64 * 1024

// TransportError reports a failed request to the FHIR endpoint: either the
// request never completed (Err set) or the server answered non-2xx.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Outcome    *OperationOutcome
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	if e.Outcome != nil {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Outcome.Summary())
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TokenSource supplies a bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// WithTokenSource attaches an Authorization bearer token to every request.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(cl *Client) { cl.tokens = ts }
}

// Client talks to a FHIR base URL. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient creates a Client for baseURL (no trailing slash).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the endpoint the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Update upserts one resource with PUT <base>/<type>/<id>.
func (c *Client) Update(ctx context.Context, r Resource) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, r.Ref())
	return c.send(ctx, http.MethodPut, url, r.Body)
}

// PostBundle submits a transaction bundle with POST <base>.
func (c *Client) PostBundle(ctx context.Context, b *SealedBundle) error {
	return c.send(ctx, http.MethodPost, c.baseURL, b.Body)
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Method: method, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &TransportError{Method: method, URL: url, Err: fmt.Errorf("bearer token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TransportError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Outcome:    ParseOutcome(body),
		Body:       string(body),
	}
}
