package codec

import (
	"bytes"
	"encoding/json"
	"io"
)

// JSONCodec writes UTF-8 JSON without escaping non-ASCII or HTML characters,
// so the payload bytes reproduce the original text and the frame length
// counts bytes, not characters.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder terminates each value with a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func (JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &ParseError{Data: data, Err: err}
	}
	// Anything but EOF after the value is trailing data, closing brackets
	// included.
	if _, err := dec.Token(); err != io.EOF {
		return &ParseError{Data: data, Err: errTrailing}
	}
	return nil
}
