package trapper

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/zbxkit/zbx/message"
	"go.uber.org/zap"
)

// Resolver picks the trapper endpoint ("host:port") for a batch. key is the
// host of the first sample, so a resolver can keep a monitored host pinned
// to one server or proxy.
type Resolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// WithResolver makes a Sender look up its endpoint per flush instead of
// using the static server and port. Sessions ignore it.
func WithResolver(r Resolver) Option {
	return func(c *config) { c.resolver = r }
}

// CollectFunc appends one sample to a batch. ts defaults to now.
type CollectFunc func(host, key string, value any, ts ...time.Time)

// Sender accumulates samples and submits them as one "sender data" request.
//
// Acquire hands out the collector; Release opens a session, sends the batch
// (an empty one included), stores the reply and closes the session. Release
// runs once: later calls return the stored outcome. A Sender is not reused
// after Release and must not be shared between goroutines.
type Sender struct {
	server   string
	cfg      config
	log      *zap.Logger
	samples  []message.Sample
	released bool
	result   *SenderResponse
	err      error
}

func NewSender(server string, opts ...Option) *Sender {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Sender{
		server:  server,
		cfg:     cfg,
		log:     cfg.logger,
		samples: []message.Sample{},
	}
}

// Acquire returns the collector for this batch.
func (s *Sender) Acquire() CollectFunc {
	return s.collect
}

func (s *Sender) collect(host, key string, value any, ts ...time.Time) {
	if s.released {
		s.log.Warn("sample collected after release dropped", zap.String("host", host), zap.String("key", key))
		return
	}
	var t time.Time
	if len(ts) > 0 {
		t = ts[0]
	}
	s.samples = append(s.samples, message.Sample{
		Host:  host,
		Key:   key,
		Value: value,
		Clock: message.Clock(t),
	})
}

// Samples returns a copy of the collected batch.
func (s *Sender) Samples() []message.Sample {
	return append([]message.Sample(nil), s.samples...)
}

// Result returns the reply stored by Release, or nil.
func (s *Sender) Result() *SenderResponse { return s.result }

// Release flushes the batch. Only the first call talks to the server.
func (s *Sender) Release(ctx context.Context) (*SenderResponse, error) {
	if s.released {
		return s.result, s.err
	}
	s.released = true
	s.result, s.err = s.flush(ctx)
	return s.result, s.err
}

// Batch runs fn with the collector and releases afterwards, also when fn
// fails or panics. Errors from fn and from the flush are joined.
func (s *Sender) Batch(ctx context.Context, fn func(collect CollectFunc) error) (res *SenderResponse, err error) {
	collect := s.Acquire()
	defer func() {
		r := recover()
		var relErr error
		res, relErr = s.Release(ctx)
		if r != nil {
			panic(r)
		}
		err = errors.Join(err, relErr)
	}()
	return nil, fn(collect)
}

func (s *Sender) flush(ctx context.Context) (*SenderResponse, error) {
	addr, err := s.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	session := newSession(addr, s.cfg)
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	defer session.Close()

	resp, err := session.SendData(s.samples, time.Time{})
	if err != nil {
		s.log.Warn("sender flush failed", zap.String("addr", addr), zap.Int("samples", len(s.samples)), zap.Error(err))
		return nil, err
	}
	s.log.Debug("sender flushed",
		zap.String("addr", addr),
		zap.Int("samples", len(s.samples)),
		zap.String("response", resp.Response),
		zap.String("info", resp.Info),
	)
	return resp, nil
}

func (s *Sender) endpoint(ctx context.Context) (string, error) {
	if s.cfg.resolver == nil {
		return net.JoinHostPort(s.server, strconv.Itoa(s.cfg.port)), nil
	}
	var key string
	if len(s.samples) > 0 {
		key = s.samples[0].Host
	}
	return s.cfg.resolver.Resolve(ctx, key)
}
