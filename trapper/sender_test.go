package trapper

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/zbxkit/zbx/loadbalance"
	"github.com/zbxkit/zbx/message"
	"github.com/zbxkit/zbx/registry"
	"github.com/zbxkit/zbx/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recorder is a trapper server that stores every batch it receives.
type recorder struct {
	mu      sync.Mutex
	batches [][]message.Sample
	addr    string
}

func startRecorder(t *testing.T) *recorder {
	t.Helper()
	rec := &recorder{}
	svr := server.NewServer()
	svr.Handle(message.RequestSenderData, server.SenderDataHandler(func(ctx context.Context, req *message.SenderDataRequest) (int, int) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.batches = append(rec.batches, req.Data)
		return len(req.Data), 0
	}))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	rec.addr = l.Addr().String()
	go svr.Serve(context.Background(), l)
	t.Cleanup(func() { svr.Shutdown(context.Background(), time.Second) })
	return rec
}

func (r *recorder) sender(t *testing.T, opts ...Option) *Sender {
	t.Helper()
	host, p, _ := net.SplitHostPort(r.addr)
	port, _ := strconv.Atoi(p)
	return NewSender(host, append([]Option{WithPort(port)}, opts...)...)
}

func (r *recorder) received() [][]message.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]message.Sample(nil), r.batches...)
}

func TestSenderRelease(t *testing.T) {
	rec := startRecorder(t)
	s := rec.sender(t)

	collect := s.Acquire()
	collect("web-01", "cpu.load", 0.5, time.Unix(1486631773, 0))
	collect("web-01", "uptime", 42)

	resp, err := s.Release(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stats == nil || resp.Stats.Processed != "2" || resp.Stats.Total != "2" {
		t.Fatalf("unexpected stats %+v", resp.Stats)
	}
	if s.Result() != resp {
		t.Fatal("result not stored")
	}

	// A second release returns the stored outcome without sending.
	again, err := s.Release(context.Background())
	if err != nil || again != resp {
		t.Fatalf("second release: %v %v", again, err)
	}

	batches := rec.received()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("unexpected batches %+v", batches)
	}
	if batches[0][0].Clock != 1486631773 || batches[0][1].Clock == 0 {
		t.Fatalf("unexpected clocks %+v", batches[0])
	}
}

func TestSenderEmptyBatch(t *testing.T) {
	rec := startRecorder(t)
	s := rec.sender(t)

	resp, err := s.Batch(context.Background(), func(CollectFunc) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stats == nil || resp.Stats.Total != "0" {
		t.Fatalf("unexpected stats %+v", resp.Stats)
	}
	if batches := rec.received(); len(batches) != 1 || len(batches[0]) != 0 {
		t.Fatalf("expect one empty batch, got %+v", batches)
	}
}

func TestSenderBatchError(t *testing.T) {
	rec := startRecorder(t)
	s := rec.sender(t)

	errBoom := errors.New("boom")
	resp, err := s.Batch(context.Background(), func(collect CollectFunc) error {
		collect("web-01", "cpu.load", 1)
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expect errBoom, got %v", err)
	}
	if resp == nil || resp.Stats == nil || resp.Stats.Processed != "1" {
		t.Fatalf("batch not flushed: %+v", resp)
	}
}

func TestSenderBatchPanic(t *testing.T) {
	rec := startRecorder(t)
	s := rec.sender(t)

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("unexpected panic value %v", r)
			}
		}()
		s.Batch(context.Background(), func(collect CollectFunc) error {
			collect("web-01", "cpu.load", 1)
			panic("boom")
		})
	}()

	if batches := rec.received(); len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expect flush before panic propagates, got %+v", batches)
	}
	if s.Result() == nil {
		t.Fatal("result not stored")
	}
}

func TestSenderCollectAfterRelease(t *testing.T) {
	rec := startRecorder(t)
	core, logs := observer.New(zap.WarnLevel)
	s := rec.sender(t, WithLogger(zap.New(core)))

	collect := s.Acquire()
	if _, err := s.Release(context.Background()); err != nil {
		t.Fatal(err)
	}
	collect("web-01", "late", 1)

	if len(s.Samples()) != 0 {
		t.Fatalf("sample kept after release: %+v", s.Samples())
	}
	if logs.FilterMessage("sample collected after release dropped").Len() != 1 {
		t.Fatalf("expect one warning, got %v", logs.All())
	}
}

func TestSenderConnectError(t *testing.T) {
	dialErr := errors.New("no route")
	s := NewSender("10.0.0.1", WithDialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addr != "10.0.0.1:10051" {
			t.Errorf("unexpected addr %s", addr)
		}
		return nil, dialErr
	}))

	_, err := s.Release(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("expect dial error, got %v", err)
	}
	if _, again := s.Release(context.Background()); !errors.Is(again, dialErr) {
		t.Fatalf("stored error lost: %v", again)
	}
}

func TestSenderResolver(t *testing.T) {
	first := startRecorder(t)
	second := startRecorder(t)

	reg := registry.NewStatic()
	ctx := context.Background()
	reg.Register(ctx, "trapper", registry.ServiceInstance{Addr: first.addr, Weight: 1}, 0)
	reg.Register(ctx, "trapper", registry.ServiceInstance{Addr: second.addr, Weight: 1}, 0)

	bal, err := loadbalance.New("consistent_hash")
	if err != nil {
		t.Fatal(err)
	}
	resolver := loadbalance.NewResolver(reg, bal, "trapper")

	for i := 0; i < 4; i++ {
		s := NewSender("", WithResolver(resolver))
		_, err := s.Batch(ctx, func(collect CollectFunc) error {
			collect("web-01", "cpu.load", i)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	a, b := len(first.received()), len(second.received())
	if a+b != 4 || (a != 0 && b != 0) {
		t.Fatalf("host not pinned to one endpoint: %d/%d", a, b)
	}
}

func TestSenderResolverError(t *testing.T) {
	bal, _ := loadbalance.New("round_robin")
	resolver := loadbalance.NewResolver(registry.NewStatic(), bal, "trapper")

	s := NewSender("", WithResolver(resolver))
	if _, err := s.Release(context.Background()); err == nil {
		t.Fatal("expect error without instances")
	}
}
