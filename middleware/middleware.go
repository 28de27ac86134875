// Package middleware wraps trapper server handlers.
//
// Chain(A, B, C)(h) builds A(B(C(h))): A runs first on the way in and last
// on the way out.
package middleware

import (
	"context"

	"github.com/zbxkit/zbx/message"
	"github.com/zbxkit/zbx/protocol"
)

// Request is one decoded frame received by the server.
type Request struct {
	Header     protocol.Header
	Kind       string        // Value of the envelope's "request" field
	Payload    []byte        // Raw JSON payload
	Data       message.Value // Payload parsed as a generic value
	RemoteAddr string
}

// Reply is written back as one frame. A nil *Reply closes the connection
// without answering.
type Reply struct {
	Data any
}

// Failed builds the reply the server sends for a rejected request.
func Failed(info string) *Reply {
	return &Reply{Data: map[string]string{"response": "failed", "info": info}}
}

type HandlerFunc func(ctx context.Context, req *Request) *Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
