package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/contextkeys"
	"github.com/stocklane/stocklane/pkg/httputil"
)

// ServiceTokenSource issues and caches this service's own bearer
// token, re-issuing when it nears expiry.
type ServiceTokenSource struct {
	issuer      *auth.TokenIssuer
	subject     string
	authorities []auth.Authority

	mu    sync.Mutex
	token string
}

// NewServiceTokenSource creates a token source for the named service.
// The subject follows the svc:<name> convention so peer directories
// can resolve it without a user database.
func NewServiceTokenSource(issuer *auth.TokenIssuer, serviceName string) *ServiceTokenSource {
	return &ServiceTokenSource{
		issuer:      issuer,
		subject:     auth.ServiceSubject(serviceName),
		authorities: []auth.Authority{auth.RoleService},
	}
}

// Token returns a current service token.
func (s *ServiceTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && !s.issuer.NearExpiry(s.token) {
		return s.token, nil
	}

	token, err := s.issuer.Issue(s.subject, s.authorities)
	if err != nil {
		return "", fmt.Errorf("failed to issue service token: %w", err)
	}
	s.token = token
	return token, nil
}

// Subject returns the principal name the tokens are issued for.
func (s *ServiceTokenSource) Subject() string {
	return s.subject
}

// StatusError is returned for unexpected HTTP responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Client is the shared base for inter-service HTTP calls. It attaches
// the service token and propagates the request ID.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *ServiceTokenSource
}

// NewClient creates a base client for the given service URL. tokens
// may be nil for unauthenticated targets.
func NewClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens: tokens,
	}
}

// do performs a JSON request. A non-nil out is decoded from 2xx
// responses. Error responses come back as *StatusError unless the
// caller maps them first via checkStatus.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		req.Header.Set(httputil.RequestIDHeader, requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func statusError(resp *http.Response) error {
	var payload httputil.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &payload)
	return &StatusError{StatusCode: resp.StatusCode, Message: payload.Error}
}

// statusCode extracts the HTTP status from an error produced by do,
// or 0 if the error was not an HTTP status.
func statusCode(err error) int {
	if se, ok := err.(*StatusError); ok {
		return se.StatusCode
	}
	return 0
}
