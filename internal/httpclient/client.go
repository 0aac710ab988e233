package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"go-procurement-client/pkg/apierror"
)

// CredentialSource yields the current bearer credential. It is consulted on
// every request so a cleared or replaced credential is never attached stale.
type CredentialSource interface {
	Credential() string
}

// Client is the single request/response pipeline every component calls
// through. It injects the credential outbound and triages every failure
// inbound into exactly one apierror kind.
type Client struct {
	baseURL        string
	http           *http.Client
	creds          CredentialSource
	limiter        *rate.Limiter
	onUnauthorized func()
	tornDown       atomic.Bool
}

type Option func(*Client)

// WithRateLimit paces outbound requests at rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUnauthorizedHook installs the session-teardown side effect fired when a
// request is rejected as unauthenticated. It runs at most once per session
// epoch regardless of how many concurrent requests fail.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

func New(baseURL string, timeout time.Duration, creds CredentialSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ResetTeardownLatch re-arms the unauthorized hook. The session manager calls
// this after a successful login starts a new session epoch.
func (c *Client) ResetTeardownLatch() {
	c.tornDown.Store(false)
}

func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.request(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apierror.New(apierror.KindParse, 0, "failed to encode request body", err.Error())
	}

	return c.request(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), out)
}

func (c *Client) PutJSON(ctx context.Context, path string, out any) error {
	return c.request(ctx, http.MethodPut, path, "", nil, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.request(ctx, http.MethodDelete, path, "", nil, nil)
}

func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	body := strings.NewReader(form.Encode())
	return c.request(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", body, out)
}

func (c *Client) request(ctx context.Context, method string, path string, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apierror.New(apierror.KindNetwork, 0, "request cancelled while waiting to send", err.Error())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apierror.New(apierror.KindNetwork, 0, "failed to build request", err.Error())
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	// Read the credential fresh for every call, never at construction time.
	if cred := c.creds.Credential(); cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// No response at all: the session is untouched.
		return apierror.New(apierror.KindNetwork, 0, "Network error. Please check your connection.", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.classifyFailure(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierror.New(apierror.KindParse, resp.StatusCode, "failed to decode response body", err.Error())
	}

	return nil
}

// errorBody covers the error shapes the backend emits.
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// classifyFailure maps a received non-2xx response onto exactly one failure
// kind. Authentication rejections additionally fire the teardown hook, once.
func (c *Client) classifyFailure(resp *http.Response) error {
	message := extractMessage(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.fireUnauthorized()
		if message == "" {
			message = "authentication rejected"
		}
		return apierror.New(apierror.KindUnauthorized, resp.StatusCode, message, "")
	}

	if message == "" {
		message = "An error occurred"
	}

	return apierror.New(apierror.KindServer, resp.StatusCode, message, "")
}

// fireUnauthorized collapses concurrent auth failures into a single teardown.
func (c *Client) fireUnauthorized() {
	if c.onUnauthorized == nil {
		return
	}

	if c.tornDown.CompareAndSwap(false, true) {
		slog.Warn("authentication rejected, tearing down session")
		c.onUnauthorized()
	}
}

func extractMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 1<<16))
	if err != nil || len(data) == 0 {
		return ""
	}

	var parsed errorBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}

	switch {
	case parsed.Detail != "":
		return parsed.Detail
	case parsed.Message != "":
		return parsed.Message
	case parsed.Error != nil && parsed.Error.Message != "":
		return parsed.Error.Message
	}

	return ""
}
