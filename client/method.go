package client

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/zbxkit/zbx/codec"
	"github.com/zbxkit/zbx/internal/metrics"
	"github.com/zbxkit/zbx/message"
	"go.uber.org/zap"
)

// Value is a decoded API result.
type Value = message.Value

// APIError reports a failed call. Err is the transport error, the
// *codec.ParseError, the server's *json2.Error, or the *message.KeyError
// of a reply carrying neither a result nor an error message.
type APIError struct {
	Method  string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Method == "" {
		return "client: " + e.Message
	}
	return fmt.Sprintf("client: %s: %s", e.Method, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Method is a node in the API name tree. Children are created on first use
// and reused afterwards.
type Method struct {
	client *Client
	name   string

	mu       sync.Mutex
	children map[string]*Method
}

func newMethod(c *Client, name string) *Method {
	return &Method{client: c, name: name, children: make(map[string]*Method)}
}

// Name returns the dotted, lowercased method name.
func (m *Method) Name() string { return m.name }

// Get returns the child method "<m>.<name>".
func (m *Method) Get(name string) *Method {
	name = strings.ToLower(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	child, ok := m.children[name]
	if !ok {
		child = newMethod(m.client, m.name+"."+name)
		m.children[name] = child
	}
	return child
}

// Call sends one request with params merged left to right and returns the
// reply's "result" as is.
func (m *Method) Call(ctx context.Context, params ...map[string]any) (result Value, err error) {
	// A category alone, or a name with an empty segment such as "host.",
	// does not address a method.
	if !strings.Contains(m.name, ".") || slices.Contains(strings.Split(m.name, "."), "") {
		return Value{}, &APIError{Method: m.name, Message: "required method is empty"}
	}
	defer func() { metrics.RecordRPCCall(m.name, err) }()

	merged := make(map[string]any)
	for _, p := range params {
		maps.Copy(merged, p)
	}

	c := m.client
	id, body, err := c.PackRequest(m.name, merged)
	if err != nil {
		return Value{}, &APIError{Method: m.name, Message: err.Error(), Err: err}
	}
	c.log.Debug("rpc call", zap.String("method", m.name), zap.Int("id", id))

	raw, err := c.poster.Post(ctx, c.url, body)
	if err != nil {
		return Value{}, &APIError{Method: m.name, Message: err.Error(), Err: err}
	}

	reply, err := codec.Parse(raw)
	if err != nil {
		return Value{}, &APIError{Method: m.name, Message: err.Error(), Err: err}
	}

	if res, err := reply.Lookup("result"); err == nil {
		return res, nil
	}
	return Value{}, replyError(m.name, reply)
}

// replyError builds the error for a reply without "result". The message is
// error.data; a reply missing it yields the failed key lookup.
func replyError(method string, reply Value) error {
	data, err := reply.Lookup("error", "data")
	if err != nil {
		return &APIError{Method: method, Message: err.Error(), Err: err}
	}

	msg, ok := data.AsString()
	if !ok {
		msg = data.String()
	}
	rpcErr := &json2.Error{Message: msg, Data: data.Interface()}
	if code, err := reply.Lookup("error", "code"); err == nil {
		n, _ := code.AsInt()
		rpcErr.Code = json2.ErrorCode(n)
	}
	if summary, err := reply.Lookup("error", "message"); err == nil {
		if s, ok := summary.AsString(); ok && s != "" {
			rpcErr.Message = s
		}
	}
	return &APIError{Method: method, Message: msg, Err: rpcErr}
}
