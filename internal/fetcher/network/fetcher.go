// Package network implements the pass-through Fetcher used on the live
// request path. It forwards method, headers and body unchanged and can hand
// back an unread body for streaming.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config controls the underlying HTTP client.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	Scope     string
}

// Fetcher implements offline.Fetcher over net/http.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher with its own pooled transport.
func New(cfg Config) *Fetcher {
	return NewWithClient(cfg, &http.Client{Transport: newHTTPTransport()})
}

// NewWithClient builds a Fetcher on an existing client (primarily for testing).
func NewWithClient(cfg Config, client *http.Client) *Fetcher {
	return &Fetcher{cfg: cfg, client: client}
}

// Fetch performs the request. Streamed requests return with Stream set and
// the caller owns closing it. Timeout applies to buffered fetches only.
func (f *Fetcher) Fetch(ctx context.Context, req offline.Request) (*offline.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var cancel context.CancelFunc = func() {}
	if f.cfg.Timeout > 0 && !req.Stream {
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = http.Header{}
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}
	if f.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	header := httpResp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	resp := &offline.Response{
		URL:        req.URL,
		StatusCode: httpResp.StatusCode,
		Header:     header,
		Type:       offline.ResolveType(req, f.cfg.Scope),
	}
	if req.Stream {
		resp.Stream = httpResp.Body
		return resp, nil
	}
	defer cancel()
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", req.URL, err)
	}
	resp.Body = data
	return resp, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
