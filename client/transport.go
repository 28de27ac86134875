package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const (
	ContentType = "application/json-rpc"
	UserAgent   = "zbx-go/client"
)

// Poster delivers an encoded request and returns the raw reply body.
type Poster interface {
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

// HTTPPoster posts requests over HTTP. A non-2xx status is an error.
type HTTPPoster struct {
	Client    *http.Client // http.DefaultClient when nil
	UserAgent string       // UserAgent when empty
}

func (p *HTTPPoster) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	ua := p.UserAgent
	if ua == "" {
		ua = UserAgent
	}
	req.Header.Set("User-Agent", ua)

	hc := p.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("received status code: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// CleanlyCloseBody drains and closes an HTTP response body so the
// connection can be reused.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}
