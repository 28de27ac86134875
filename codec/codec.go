// Package codec serializes payloads for both protocols.
package codec

import (
	"errors"
	"fmt"

	"github.com/zbxkit/zbx/message"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// ParseError reports a body that is not valid JSON.
type ParseError struct {
	Data []byte // The offending input, possibly truncated for display
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("codec: invalid JSON %q: %v", preview(e.Data), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func preview(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Default is the codec used by the trapper session and the RPC client.
var Default Codec = JSONCodec{}

// Marshal encodes v with the default codec.
func Marshal(v any) ([]byte, error) {
	return Default.Encode(v)
}

// Parse decodes data into a generic value with the default codec.
func Parse(data []byte) (message.Value, error) {
	var v message.Value
	if err := Default.Decode(data, &v); err != nil {
		return message.Value{}, err
	}
	return v, nil
}

var errTrailing = errors.New("unexpected data after top-level value")
