package server

import (
	"context"
	"fmt"
	"time"

	"github.com/zbxkit/zbx/codec"
	"github.com/zbxkit/zbx/message"
	"github.com/zbxkit/zbx/middleware"
)

// SenderDataFunc stores a batch and reports how many samples were accepted.
type SenderDataFunc func(ctx context.Context, req *message.SenderDataRequest) (processed, failed int)

// SenderDataHandler decodes "sender data" requests and answers with the
// statistics line senders parse.
func SenderDataHandler(fn SenderDataFunc) middleware.HandlerFunc {
	return func(ctx context.Context, req *middleware.Request) *middleware.Reply {
		start := time.Now()
		var batch message.SenderDataRequest
		if err := codec.Default.Decode(req.Payload, &batch); err != nil {
			return middleware.Failed("cannot decode sender data")
		}
		processed, failed := fn(ctx, &batch)
		return &middleware.Reply{Data: map[string]string{
			"response": "success",
			"info":     StatisticsLine(processed, failed, time.Since(start)),
		}}
	}
}

// StatisticsLine formats the summary carried in a sender reply's "info".
func StatisticsLine(processed, failed int, spent time.Duration) string {
	return fmt.Sprintf("processed: %d; failed: %d; total: %d; seconds spent: %.6f",
		processed, failed, processed+failed, spent.Seconds())
}

// ActiveChecksFunc returns the checks for host, or false if the host is
// unknown.
type ActiveChecksFunc func(ctx context.Context, host string) ([]message.ActiveCheck, bool)

func ActiveChecksHandler(fn ActiveChecksFunc) middleware.HandlerFunc {
	return func(ctx context.Context, req *middleware.Request) *middleware.Reply {
		var checks message.ActiveChecksRequest
		if err := codec.Default.Decode(req.Payload, &checks); err != nil || checks.Host == "" {
			return middleware.Failed("host name is missing")
		}
		items, ok := fn(ctx, checks.Host)
		if !ok {
			return middleware.Failed(fmt.Sprintf("host [%s] not found", checks.Host))
		}
		if items == nil {
			items = []message.ActiveCheck{}
		}
		return &middleware.Reply{Data: struct {
			Response string                `json:"response"`
			Data     []message.ActiveCheck `json:"data"`
		}{"success", items}}
	}
}
