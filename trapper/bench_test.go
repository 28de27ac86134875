package trapper

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/zbxkit/zbx/codec"
	"github.com/zbxkit/zbx/message"
	"github.com/zbxkit/zbx/protocol"
	"github.com/zbxkit/zbx/server"
)

func setupBenchServer(b *testing.B) (host string, port int) {
	svr := server.NewServer()
	svr.Handle(message.RequestSenderData, server.SenderDataHandler(func(ctx context.Context, req *message.SenderDataRequest) (int, int) {
		return len(req.Data), 0
	}))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go svr.Serve(context.Background(), l)
	b.Cleanup(func() { svr.Shutdown(context.Background(), 3*time.Second) })

	host, p, _ := net.SplitHostPort(l.Addr().String())
	port, _ = strconv.Atoi(p)
	return host, port
}

func benchSamples(n int) []message.Sample {
	samples := make([]message.Sample, n)
	for i := range samples {
		samples[i] = message.Sample{Host: "web-01", Key: "net.if.in[eth" + strconv.Itoa(i) + "]", Value: i, Clock: 1486631773}
	}
	return samples
}

// Several requests on one session.
func BenchmarkSessionSendData(b *testing.B) {
	host, port := setupBenchServer(b)
	s := New(host, WithPort(port))
	if err := s.Connect(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	samples := benchSamples(10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.SendData(samples, time.Time{}); err != nil {
			b.Fatal(err)
		}
	}
}

// One connection per batch, as a Sender does.
func BenchmarkSenderBatch(b *testing.B) {
	host, port := setupBenchServer(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := NewSender(host, WithPort(port))
		_, err := s.Batch(context.Background(), func(collect CollectFunc) error {
			for j := 0; j < 10; j++ {
				collect("web-01", "cpu.load", j)
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Encoding and parsing only, no network.
func BenchmarkFrameRoundTrip(b *testing.B) {
	req := message.NewSenderDataRequest(benchSamples(100), time.Unix(1486631777, 0))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		body, err := codec.Marshal(req)
		if err != nil {
			b.Fatal(err)
		}
		frame := protocol.Encode(protocol.Version, body)
		if _, err := readResponse(frame, bytes.NewReader(nil)); err != nil {
			b.Fatal(err)
		}
	}
}
