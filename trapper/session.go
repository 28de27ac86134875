// Package trapper implements the client side of the trapper protocol: a
// Session owning one socket, and a Sender that batches samples and flushes
// them through a Session exactly once.
//
//	Session.Request(payload)
//	  → codec.Marshal (UTF-8, no escaping)
//	  → protocol.Encode → conn.Write
//	  → conn.Read (first receive, up to MaxReadSize)
//	  → protocol.DecodeHeader → codec.Parse(payload[:Length])
//
// A reply split across receives is read to the declared length.
//
// A Session has no request correlation, so it must not be shared by
// concurrent callers: one request completes before the next begins.
package trapper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/zbxkit/zbx/codec"
	"github.com/zbxkit/zbx/internal/metrics"
	"github.com/zbxkit/zbx/message"
	"github.com/zbxkit/zbx/protocol"
	"go.uber.org/zap"
)

const (
	DefaultPort = 10051
	MaxReadSize = 65535 // Size of the first receive call
)

var (
	ErrEmptyResponse = errors.New("trapper: empty response")
	ErrNotConnected  = errors.New("trapper: session not connected")
)

// RequestError reports a request the peer did not answer.
type RequestError struct {
	Addr string
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("trapper: request to %s failed: %v", e.Addr, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// DialFunc opens the connection for a session.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type config struct {
	port     int
	version  byte
	timeout  time.Duration
	dial     DialFunc
	logger   *zap.Logger
	resolver Resolver
}

func defaultConfig() config {
	var d net.Dialer
	return config{
		port:    DefaultPort,
		version: protocol.Version,
		dial:    d.DialContext,
		logger:  zap.NewNop(),
	}
}

// Option configures a Session or a Sender.
type Option func(*config)

func WithPort(port int) Option {
	return func(c *config) {
		if port > 0 {
			c.port = port
		}
	}
}

// WithTimeout sets a read/write deadline for every request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func WithDialFunc(dial DialFunc) Option {
	return func(c *config) { c.dial = dial }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithProtocolVersion overrides the version byte written in request headers.
func WithProtocolVersion(v byte) Option {
	return func(c *config) { c.version = v }
}

// Session wraps a single trapper connection.
type Session struct {
	addr string
	cfg  config
	conn net.Conn
	log  *zap.Logger
}

// Response is a decoded trapper reply.
type Response struct {
	Header protocol.Header
	Data   message.Value
}

// New returns a disconnected session for server. The port defaults to
// DefaultPort.
func New(server string, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newSession(net.JoinHostPort(server, strconv.Itoa(cfg.port)), cfg)
}

func newSession(addr string, cfg config) *Session {
	return &Session{
		addr: addr,
		cfg:  cfg,
		log:  cfg.logger.With(zap.String("addr", addr)),
	}
}

func (s *Session) Addr() string { return s.addr }

func (s *Session) Connected() bool { return s.conn != nil }

// Connect opens the TCP connection. It is a no-op on a connected session.
func (s *Session) Connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	conn, err := s.cfg.dial(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("trapper: connect %s: %w", s.addr, err)
	}
	s.conn = conn
	s.log.Debug("trapper session connected")
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.log.Debug("trapper session closed")
	return err
}

// Request sends payload as one frame and returns the decoded reply.
func (s *Session) Request(payload any) (*Response, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	kind := requestKind(payload)
	start := time.Now()
	resp, err := s.roundTrip(payload)
	metrics.RecordTrapperRequest(kind, err, time.Since(start))
	if err != nil {
		s.log.Debug("trapper request failed", zap.String("request", kind), zap.Error(err))
		return nil, err
	}
	s.log.Debug("trapper request done",
		zap.String("request", kind),
		zap.Uint64("length", resp.Header.Length),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

func (s *Session) roundTrip(payload any) (*Response, error) {
	// Step 1: encode; non-ASCII text stays UTF-8 so Length counts bytes.
	body, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("trapper: encode payload: %w", err)
	}

	if s.cfg.timeout > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(s.cfg.timeout)); err != nil {
			return nil, &RequestError{Addr: s.addr, Err: err}
		}
	}

	// Step 2: frame and write in one call.
	if err := protocol.Write(s.conn, s.cfg.version, body); err != nil {
		return nil, &RequestError{Addr: s.addr, Err: err}
	}

	// Step 3: first receive. Zero bytes means the server closed without
	// answering.
	buf := make([]byte, MaxReadSize)
	n, err := s.conn.Read(buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &RequestError{Addr: s.addr, Err: err}
		}
		return nil, &RequestError{Addr: s.addr, Err: ErrEmptyResponse}
	}

	return readResponse(buf[:n], s.conn)
}

// readResponse decodes a reply whose first bytes are in first. A frame
// split across receives is completed from rest; anything after the declared
// payload length is ignored.
func readResponse(first []byte, rest io.Reader) (*Response, error) {
	if len(first) >= protocol.HeaderSize {
		// Reject a bad magic before touching the socket again.
		if _, err := protocol.DecodeHeader(first); err != nil {
			return nil, err
		}
	}

	header, payload, err := protocol.Read(io.MultiReader(bytes.NewReader(first), rest))
	if err != nil {
		return nil, err
	}

	data, err := codec.Parse(payload)
	if err != nil {
		return nil, err
	}
	return &Response{Header: header, Data: data}, nil
}

func requestKind(payload any) string {
	switch p := payload.(type) {
	case *message.ActiveChecksRequest:
		return p.Request
	case *message.SenderDataRequest:
		return p.Request
	case map[string]any:
		if s, ok := p["request"].(string); ok {
			return s
		}
	case message.Value:
		if v, err := p.Lookup("request"); err == nil {
			s, _ := v.AsString()
			return s
		}
	}
	return ""
}
