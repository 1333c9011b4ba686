// Package network performs the live fetches the proxy falls back to or
// revalidates against.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNetwork wraps transport failures: no connectivity, DNS, timeouts.
// An HTTP error status is not a network failure.
var ErrNetwork = errors.New("network request failed")

// ResponseType mirrors the fetch response types that matter for caching.
type ResponseType string

const (
	TypeBasic  ResponseType = "basic"
	TypeCORS   ResponseType = "cors"
	TypeOpaque ResponseType = "opaque"
)

// Response is a fully read network response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Type   ResponseType
	// URL is the final URL after redirects.
	URL        string
	Redirected bool
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// FetchOptions adjust a single fetch.
type FetchOptions struct {
	// Reload bypasses intermediary HTTP caches.
	Reload bool
}

// Fetcher fetches a request from the network. Implementations return an
// error wrapping ErrNetwork when no response could be obtained.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request, opts FetchOptions) (*Response, error)
}

// HTTPFetcher forwards requests to a single origin.
type HTTPFetcher struct {
	origin *url.URL
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher for the given origin base URL.
func NewHTTPFetcher(origin string, timeout time.Duration) (*HTTPFetcher, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parsing origin %q: %w", origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", origin)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		origin: u,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Origin returns the origin base URL.
func (f *HTTPFetcher) Origin() *url.URL { return f.origin }

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Fetch resolves req's path and query against the origin and performs it.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request, opts FetchOptions) (*Response, error) {
	target := f.origin.ResolveReference(&url.URL{
		Path:     joinPath(f.origin.Path, req.URL.Path),
		RawQuery: req.URL.RawQuery,
	})

	var body io.Reader
	if req.Body != nil && req.Method != http.MethodGet && req.Method != http.MethodHead {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", target, err)
	}
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	// The proxy needs plain bodies to store and replay them.
	out.Header.Del("Accept-Encoding")
	if opts.Reload {
		out.Header.Set("Cache-Control", "no-cache")
		out.Header.Set("Pragma", "no-cache")
		out.Header.Del("If-None-Match")
		out.Header.Del("If-Modified-Since")
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrNetwork, target, err)
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}

	final := resp.Request.URL
	return &Response{
		Status:     resp.StatusCode,
		Header:     header,
		Body:       data,
		Type:       f.classify(final, header),
		URL:        final.String(),
		Redirected: final.String() != target.String(),
	}, nil
}

// classify assigns the response type from where the response finally came
// from: same origin is basic, anything else is cors or opaque.
func (f *HTTPFetcher) classify(final *url.URL, header http.Header) ResponseType {
	if strings.EqualFold(final.Scheme, f.origin.Scheme) && strings.EqualFold(final.Host, f.origin.Host) {
		return TypeBasic
	}
	if header.Get("Access-Control-Allow-Origin") != "" {
		return TypeCORS
	}
	return TypeOpaque
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}
