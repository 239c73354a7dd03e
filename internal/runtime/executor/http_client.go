package executor

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/nghyane/llm-mux/internal/config"
	"github.com/nghyane/llm-mux/internal/provider"
)

// NewProxyAwareHTTPClient returns a pooled *http.Client using the shared
// transport, or a cached per-proxy transport when cfg.ProxyURL is set. auth
// is accepted so a future per-credential proxy override can key off it
// without changing every call site.
func NewProxyAwareHTTPClient(_ context.Context, cfg *config.Config, _ *provider.Auth, timeout time.Duration) *http.Client {
	client := AcquireHTTPClient()
	client.Timeout = timeout
	if cfg != nil && cfg.ProxyURL != "" {
		client.Transport = getCachedTransport(cfg.ProxyURL)
	} else {
		client.Transport = SharedTransport
	}
	return client
}

// buildProxyTransport parses proxyURL and builds a dedicated transport for
// it, used by the LRU transport cache in http_client_pool.go.
func buildProxyTransport(proxyURL string) *http.Transport {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil
	}
	return ProxyTransport(parsed)
}

// DecodeResponseBody wraps body in a decompressing reader according to the
// upstream's Content-Encoding header. Unknown/empty encodings pass through
// unchanged.
func DecodeResponseBody(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch encoding {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "br":
		return struct {
			io.Reader
			io.Closer
		}{brotli.NewReader(body), body}, nil
	case "zstd":
		r, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{r, body}, nil
	case "deflate":
		return flate.NewReader(body), nil
	default:
		return body, nil
	}
}
