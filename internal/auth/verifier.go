// Package auth is the boundary to the external login provider. The core only
// needs a stable opaque user identifier; how tokens are minted is the
// provider's business.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Identity is what the login provider hands the core on a verified token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

var ErrInvalidToken = errors.New("invalid token")

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// HTTPVerifier posts the token to an external verification endpoint (the
// original deployment verifies Google ID tokens) and decodes the identity
// from the JSON response.
type HTTPVerifier struct {
	verifyURL string
	http      *fasthttp.Client

	timeout time.Duration
}

// Option tweaks an HTTPVerifier.
type Option func(*HTTPVerifier)

func WithTimeout(d time.Duration) Option {
	return func(v *HTTPVerifier) { v.timeout = d }
}

func NewHTTPVerifier(verifyURL string, opts ...Option) *HTTPVerifier {
	v := &HTTPVerifier{
		verifyURL: strings.TrimRight(verifyURL, "/"),
		http:      &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrInvalidToken
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(v.verifyURL)
	req.Header.SetContentType("application/json")
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return Identity{}, fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := v.http.DoDeadline(req, resp, v.deadline(ctx)); err != nil {
		return Identity{}, fmt.Errorf("verify request failed: %w", err)
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusBadRequest || status == fasthttp.StatusUnauthorized {
		return Identity{}, ErrInvalidToken
	}
	if status < 200 || status >= 300 {
		return Identity{}, fmt.Errorf("auth provider error: status=%d", status)
	}

	var id Identity
	if err := json.Unmarshal(resp.Body(), &id); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	if strings.TrimSpace(id.UserID) == "" {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

func (v *HTTPVerifier) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(v.timeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(v.timeout)
}

// InsecureVerifier accepts "userID|email|name" tokens verbatim. Meant for
// local development and tests only.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, token string) (Identity, error) {
	parts := strings.SplitN(token, "|", 3)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return Identity{}, ErrInvalidToken
	}
	id := Identity{UserID: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		id.Email = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		id.Name = strings.TrimSpace(parts[2])
	}
	return id, nil
}
