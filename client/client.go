// Package client is a JSON-RPC client for the monitoring server's control
// plane API.
//
// Methods are reached through a tree of proxies: a Client hands out one
// Method per API category ("host", "item", ...), and each Method hands out
// children for its dotted sub-names. Only leaf methods such as "host.get"
// can be called.
//
//	api := client.New("https://monitor.example.com/api_jsonrpc.php")
//	api.Login(ctx, "Admin", "secret")
//	host, _ := api.Category("host")
//	hosts, err := host.Get("get").Call(ctx, map[string]any{"output": "extend"})
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/zbxkit/zbx/codec"
	"go.uber.org/zap"
)

// ErrUnknownCategory is returned for a category outside the API allow-list.
var ErrUnknownCategory = errors.New("client: unknown API category")

// Categories is the allow-list of top-level API names.
var Categories = []string{
	"action", "alert", "apiinfo", "application", "dcheck", "drule", "user",
	"usermedia", "event", "graph", "graphitem", "history", "host", "image",
	"script", "item", "maintenance", "map", "mediatype", "proxy", "screen",
	"service", "hostgroup", "template", "trigger", "usergroup", "dservice",
	"dhost", "usermacro", "trends",
}

// Request is the JSON-RPC 2.0 envelope. Auth is left out until the client
// holds a token.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
	Auth    string `json:"auth,omitempty"`
}

// Client holds the endpoint URL and the session token. It may be shared
// between goroutines.
type Client struct {
	url    string
	poster Poster
	log    *zap.Logger

	mu   sync.RWMutex
	auth string

	catMu      sync.Mutex
	categories map[string]*Method
}

type Option func(*Client)

// WithPoster replaces the HTTP transport.
func WithPoster(p Poster) Option {
	return func(c *Client) { c.poster = p }
}

// WithHTTPClient posts through hc instead of http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.poster = &HTTPPoster{Client: hc} }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a client for the API at url. It is not logged in.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		poster:     &HTTPPoster{},
		log:        zap.NewNop(),
		categories: make(map[string]*Method),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string { return c.url }

// IsLoggedIn reports whether the client holds a token.
func (c *Client) IsLoggedIn() bool {
	return c.Auth() != ""
}

// Auth returns the session token, or "".
func (c *Client) Auth() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// Login calls user.login and keeps the returned token. It does nothing when
// the client is already logged in.
func (c *Client) Login(ctx context.Context, user, password string) error {
	if c.IsLoggedIn() {
		return nil
	}
	result, err := c.Call(ctx, "user.login", map[string]any{
		"user":     user,
		"password": password,
	})
	if err != nil {
		return err
	}
	token, ok := result.AsString()
	if !ok || token == "" {
		return &APIError{Method: "user.login", Message: "unexpected login result " + result.String()}
	}

	c.mu.Lock()
	c.auth = token
	c.mu.Unlock()
	c.log.Debug("logged in", zap.String("user", user))
	return nil
}

// Logout calls user.logout and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if !c.IsLoggedIn() {
		return nil
	}
	if _, err := c.Call(ctx, "user.logout"); err != nil {
		return err
	}
	c.mu.Lock()
	c.auth = ""
	c.mu.Unlock()
	return nil
}

// PackRequest encodes a call to method. Every call gets a fresh random id in
// [1, 65535].
func (c *Client) PackRequest(method string, params any) (int, []byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      rand.IntN(65535) + 1,
		Auth:    c.Auth(),
	}
	body, err := codec.Marshal(req)
	if err != nil {
		return 0, nil, fmt.Errorf("client: encode %s: %w", method, err)
	}
	return req.ID, body, nil
}

// Category returns the proxy for an API category. Names are matched
// case-insensitively against Categories.
func (c *Client) Category(name string) (*Method, error) {
	lower := strings.ToLower(name)
	if !slices.Contains(Categories, lower) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
	}

	c.catMu.Lock()
	defer c.catMu.Unlock()
	m, ok := c.categories[lower]
	if !ok {
		m = newMethod(c, lower)
		c.categories[lower] = m
	}
	return m, nil
}

// Call resolves a dotted method name such as "host.get" and calls it.
func (c *Client) Call(ctx context.Context, method string, params ...map[string]any) (Value, error) {
	parts := strings.Split(method, ".")
	m, err := c.Category(parts[0])
	if err != nil {
		return Value{}, err
	}
	for _, part := range parts[1:] {
		m = m.Get(part)
	}
	return m.Call(ctx, params...)
}
