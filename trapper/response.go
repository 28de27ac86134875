package trapper

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/zbxkit/zbx/internal/metrics"
	"github.com/zbxkit/zbx/message"
	"github.com/zbxkit/zbx/protocol"
	"go.uber.org/zap"
)

// CheckItem is the polling metadata of one active check.
type CheckItem = message.ActiveCheck

// CheckResponse is the reply to an "active checks" request. Items is empty
// when the server rejects the host; Response and Info then say why.
type CheckResponse struct {
	Header   protocol.Header
	Response string
	Info     string
	Data     message.Value
	Items    []CheckItem
}

// Statistics is the processing summary the server embeds in the "info"
// field of a sender reply. Fields keep the server's text.
type Statistics struct {
	Processed    string
	Failed       string
	Total        string
	SecondsSpent string
}

// SenderResponse is the reply to a "sender data" request. Stats is nil when
// the info line does not match the statistics grammar.
type SenderResponse struct {
	Header   protocol.Header
	Response string
	Info     string
	Data     message.Value
	Stats    *Statistics
}

var statisticsPattern = regexp.MustCompile(
	`processed:\s*(?P<processed>\d+)\s*;\s*` +
		`failed:\s*(?P<failed>\d+)\s*;\s*` +
		`total:\s*(?P<total>\d+)\s*;\s*` +
		`seconds spent:\s*(?P<seconds_spent>[\d.]+)\s*`,
)

// ParseStatistics extracts the summary from an info line, or returns nil.
func ParseStatistics(info string) *Statistics {
	m := statisticsPattern.FindStringSubmatch(info)
	if m == nil {
		return nil
	}
	group := func(name string) string {
		return m[statisticsPattern.SubexpIndex(name)]
	}
	return &Statistics{
		Processed:    group("processed"),
		Failed:       group("failed"),
		Total:        group("total"),
		SecondsSpent: group("seconds_spent"),
	}
}

// Counts converts the summary to numbers.
func (s *Statistics) Counts() (processed, failed, total int64, spent time.Duration, err error) {
	if processed, err = strconv.ParseInt(s.Processed, 10, 64); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("trapper: processed: %w", err)
	}
	if failed, err = strconv.ParseInt(s.Failed, 10, 64); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("trapper: failed: %w", err)
	}
	if total, err = strconv.ParseInt(s.Total, 10, 64); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("trapper: total: %w", err)
	}
	secs, err := strconv.ParseFloat(s.SecondsSpent, 64)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("trapper: seconds spent: %w", err)
	}
	return processed, failed, total, time.Duration(secs * float64(time.Second)), nil
}

// GetActiveChecks fetches the active checks configured for host.
func (s *Session) GetActiveChecks(host string) (*CheckResponse, error) {
	resp, err := s.Request(message.NewActiveChecksRequest(host))
	if err != nil {
		return nil, err
	}

	out := &CheckResponse{
		Header:   resp.Header,
		Data:     resp.Data,
		Response: stringField(resp.Data, "response"),
		Info:     stringField(resp.Data, "info"),
	}
	list, _ := field(resp.Data, "data").AsArray()
	for _, entry := range list {
		out.Items = append(out.Items, CheckItem{
			Key:         stringField(entry, "key"),
			Delay:       intField(entry, "delay"),
			LastLogSize: intField(entry, "lastlogsize"),
			MTime:       intField(entry, "mtime"),
		})
	}
	return out, nil
}

// SendData submits samples stamped with ts; the zero time means now.
func (s *Session) SendData(samples []message.Sample, ts time.Time) (*SenderResponse, error) {
	resp, err := s.Request(message.NewSenderDataRequest(samples, ts))
	if err != nil {
		return nil, err
	}

	out := &SenderResponse{
		Header:   resp.Header,
		Data:     resp.Data,
		Response: stringField(resp.Data, "response"),
		Info:     stringField(resp.Data, "info"),
	}
	out.Stats = ParseStatistics(out.Info)
	if out.Stats == nil {
		s.log.Debug("sender reply without statistics", zap.String("info", out.Info))
		return out, nil
	}
	if processed, failed, _, _, err := out.Stats.Counts(); err == nil {
		metrics.RecordSenderItems(processed, failed)
	}
	return out, nil
}

func field(v message.Value, key string) message.Value {
	f, _ := v.Lookup(key)
	return f
}

func stringField(v message.Value, key string) string {
	s, _ := field(v, key).AsString()
	return s
}

func intField(v message.Value, key string) int64 {
	n, _ := field(v, key).AsInt()
	return n
}
