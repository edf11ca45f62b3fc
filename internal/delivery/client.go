// Package delivery posts finished session transcripts to the backend API.
package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultURL = "https://localhost:3000/api/transcript"

// ErrStatus wraps non-2xx backend responses.
var ErrStatus = errors.New("unexpected backend status")

// Payload is the JSON body the backend expects.
type Payload struct {
	Transcripts []string `json:"transcripts"`
	Room        string   `json:"room"`
}

type Options struct {
	URL string
	// InsecureSkipVerify disables TLS certificate validation for the
	// backend call. Intended for local development against self-signed certs.
	InsecureSkipVerify bool
	// Timeout bounds a single delivery attempt. Zero leaves only the
	// caller's context in charge.
	Timeout time.Duration
}

type Client struct {
	url  string
	http *http.Client
}

func New(opts Options) *Client {
	url := opts.URL
	if url == "" {
		url = DefaultURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
	}

	return &Client{
		url: url,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
	}
}

func (c *Client) URL() string {
	return c.url
}

// Deliver sends one POST with the full transcript. It makes a single
// attempt; callers decide what a failure means.
func (c *Client) Deliver(ctx context.Context, room string, lines []string) error {
	if lines == nil {
		lines = []string{}
	}
	body, err := json.Marshal(Payload{Transcripts: lines, Room: room})
	if err != nil {
		return fmt.Errorf("marshal transcript payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post transcript to %s: %w", c.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
