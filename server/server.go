// Package server implements a trapper-protocol server: it accepts
// connections, decodes ZBXD frames and dispatches each request on the
// envelope's "request" field through a middleware chain.
//
//	Accept conn → handleConn (reads frames in order)
//	  → codec.Parse → Middleware Chain → dispatch(Kind) → Handler → codec.Marshal → write reply
//
// Requests on one connection are handled one after another because the
// protocol carries no request id: replies must come back in request order.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zbxkit/zbx/codec"
	"github.com/zbxkit/zbx/middleware"
	"github.com/zbxkit/zbx/protocol"
	"github.com/zbxkit/zbx/registry"
	"go.uber.org/zap"
)

// Server dispatches trapper requests to registered handlers.
type Server struct {
	handlers    map[string]middleware.HandlerFunc // "sender data" → handler
	wg          sync.WaitGroup                    // Tracks in-flight requests for graceful shutdown
	shutdown    atomic.Bool                       // Set during shutdown to suppress Accept and Read errors
	middlewares []middleware.Middleware           // Applied in the order added
	log         *zap.Logger

	// mu guards the listener and the connection set, shared by Serve,
	// the connection goroutines and Shutdown.
	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{} // Open connections, closed on shutdown

	registry      registry.Registry
	service       string
	advertiseAddr string // Address published in the registry; must be routable
	ttl           int64
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRegistry publishes advertiseAddr under service while the server runs.
func WithRegistry(reg registry.Registry, service, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.advertiseAddr = advertiseAddr
		s.ttl = ttl
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		handlers: make(map[string]middleware.HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for requests whose "request" field equals kind.
func (svr *Server) Handle(kind string, h middleware.HandlerFunc) {
	svr.handlers[kind] = h
}

// Use registers a middleware. Middlewares run in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// ListenAndServe listens on address and serves until Shutdown.
func (svr *Server) ListenAndServe(ctx context.Context, network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.Serve(ctx, listener)
}

// Serve accepts connections on listener until Shutdown. The context bounds
// the registry lease. Serve on a server already shut down closes listener
// and returns nil.
func (svr *Server) Serve(ctx context.Context, listener net.Listener) error {
	// Built once per Serve. Chain(A, B)(dispatch) → A(B(dispatch)): A sees
	// the request first.
	handler := middleware.Chain(svr.middlewares...)(svr.dispatch)

	// Store the listener under the same lock Shutdown takes to set the flag,
	// so exactly one of them closes it.
	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		listener.Close()
		return nil
	}
	svr.listener = listener
	svr.mu.Unlock()

	if svr.registry != nil {
		err := svr.registry.Register(ctx, svr.service, registry.ServiceInstance{
			Addr:   svr.advertiseAddr,
			Weight: 1,
		}, svr.ttl)
		if err != nil {
			listener.Close()
			return fmt.Errorf("server: register %s: %w", svr.service, err)
		}
		// Shutdown may have deregistered before the entry above was written.
		if svr.shutdown.Load() {
			svr.deregister(ctx)
		}
	}

	svr.log.Info("trapper server listening", zap.String("addr", listener.Addr().String()))
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		if !svr.track(conn) {
			conn.Close()
			return nil
		}
		go svr.handleConn(ctx, conn, handler)
	}
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// track records conn as open. It returns false once shutdown has begun.
func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
}

// handleConn answers frames in arrival order; the protocol has no request
// id, so replies cannot be reordered.
func (svr *Server) handleConn(ctx context.Context, conn net.Conn, handler middleware.HandlerFunc) {
	defer svr.untrack(conn)
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	for {
		// Step 1: read one complete frame (header, then Length bytes).
		header, payload, err := protocol.Read(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !svr.shutdown.Load() {
				svr.log.Debug("closing connection", zap.String("remote", remote), zap.Error(err))
			}
			return
		}
		// A frame that arrives during shutdown is not started.
		if svr.shutdown.Load() {
			return
		}
		// Step 2: decode, run the chain and write the reply.
		if !svr.handleRequest(ctx, conn, handler, &middleware.Request{
			Header:     header,
			Payload:    payload,
			RemoteAddr: remote,
		}) {
			return
		}
	}
}

// handleRequest answers one frame. It returns false when the connection
// should be closed.
func (svr *Server) handleRequest(ctx context.Context, conn net.Conn, handler middleware.HandlerFunc, req *middleware.Request) bool {
	svr.wg.Add(1)
	defer svr.wg.Done()

	// Step 1: parse the payload; a body that is not JSON still gets an answer.
	data, err := codec.Parse(req.Payload)
	if err != nil {
		return svr.writeReply(conn, middleware.Failed("invalid JSON"))
	}
	req.Data = data
	if v, err := data.Lookup("request"); err == nil {
		req.Kind, _ = v.AsString()
	}

	// Step 2: middleware chain → dispatch → handler.
	reply := handler(ctx, req)
	if reply == nil {
		return false
	}

	// Step 3: frame and write the reply.
	return svr.writeReply(conn, reply)
}

func (svr *Server) writeReply(conn net.Conn, reply *middleware.Reply) bool {
	body, err := codec.Marshal(reply.Data)
	if err != nil {
		svr.log.Error("failed to encode reply", zap.Error(err))
		return false
	}
	if err := protocol.Write(conn, protocol.Version, body); err != nil {
		svr.log.Debug("failed to write reply", zap.Error(err))
		return false
	}
	return true
}

func (svr *Server) dispatch(ctx context.Context, req *middleware.Request) *middleware.Reply {
	h, ok := svr.handlers[req.Kind]
	if !ok {
		return middleware.Failed(fmt.Sprintf("unsupported request %q", req.Kind))
	}
	return h(ctx, req)
}

func (svr *Server) deregister(ctx context.Context) {
	if err := svr.registry.Deregister(ctx, svr.service, svr.advertiseAddr); err != nil {
		svr.log.Warn("deregister failed", zap.Error(err))
	}
}

// Shutdown deregisters the server, stops accepting connections, waits for
// in-flight requests up to timeout and then closes every open connection.
// It may be called before Serve and more than once.
func (svr *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	// Step 1: flag and close the listener under mu so a concurrent Serve
	// either sees the flag or has stored a listener we close here.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	// Step 2: withdraw from the registry so senders stop picking us.
	if svr.registry != nil {
		svr.deregister(ctx)
	}

	// Step 3: let in-flight requests finish.
	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	// Step 4: idle connections are blocked in Read; closing them ends
	// their goroutines.
	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}
