// Package authclient resolves connection credentials against the identity
// backend. Identity management itself lives outside this service; only the
// lookup crosses the boundary.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// ErrUnauthenticated is returned for missing, expired or unknown tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is an authenticated participant as the backend reports it.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Resolver turns a bearer token into an Identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve verifies the token with the identity backend. A non-2xx status
// other than 401/403 is an availability failure, not an auth decision.
func (c *Client) Resolve(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "/api/auth/me")
	req.Header.Set("Authorization", "Bearer "+token)

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}

	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return nil, ErrUnauthenticated
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("identity backend error: status=%d", status)
	}

	var id Identity
	if err := json.Unmarshal(resp.Body(), &id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	return &id, nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

// Static resolves tokens from a fixed map; used in tests and local runs
// without an identity backend.
type Static map[string]Identity

func (s Static) Resolve(_ context.Context, token string) (*Identity, error) {
	if id, ok := s[strings.TrimSpace(token)]; ok {
		return &id, nil
	}
	return nil, ErrUnauthenticated
}
