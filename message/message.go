// Package message defines the JSON payloads exchanged with the monitoring
// server.
//
// Both protocols are schema-less at this layer: the shape of a response
// depends on the request or method. Value models such payloads as a tagged
// union, and the trapper envelopes below are the only fixed shapes.
package message

import "time"

// Trapper request kinds, carried in the envelope's "request" field.
const (
	RequestActiveChecks = "active checks"
	RequestSenderData   = "sender data"
)

// Sample is one timestamped item value pushed to the trapper.
type Sample struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value any    `json:"value"`
	Clock int64  `json:"clock"` // Unix seconds
}

// ActiveChecksRequest asks for the list of items a host should poll.
type ActiveChecksRequest struct {
	Request string `json:"request"`
	Host    string `json:"host"`
}

// SenderDataRequest submits a batch of samples.
type SenderDataRequest struct {
	Request string   `json:"request"`
	Data    []Sample `json:"data"`
	Clock   int64    `json:"clock"`
}

func NewActiveChecksRequest(host string) *ActiveChecksRequest {
	return &ActiveChecksRequest{Request: RequestActiveChecks, Host: host}
}

// NewSenderDataRequest stamps the batch with Clock(ts). A nil batch is sent
// as an empty list.
func NewSenderDataRequest(samples []Sample, ts time.Time) *SenderDataRequest {
	if samples == nil {
		samples = []Sample{}
	}
	return &SenderDataRequest{
		Request: RequestSenderData,
		Data:    samples,
		Clock:   Clock(ts),
	}
}

// Clock converts ts to whole Unix seconds, rounding down. The zero time
// means now.
func Clock(ts time.Time) int64 {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.Unix()
}

// ActiveCheck is the wire shape of one entry in an "active checks" reply.
type ActiveCheck struct {
	Key         string `json:"key"`
	Delay       int64  `json:"delay"` // Seconds
	LastLogSize int64  `json:"lastlogsize"`
	MTime       int64  `json:"mtime"`
}
