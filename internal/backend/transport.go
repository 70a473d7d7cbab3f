package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "readrelay/1.0"
	maxErrorBody     = 512
)

// TransportOptions tunes a [Transport]. The zero value is usable.
type TransportOptions struct {
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
	// RequestsPerSecond caps outgoing requests. Zero or negative disables the
	// limit.
	RequestsPerSecond float64
	// Burst is the limiter's bucket size. Defaults to 1.
	Burst     int
	UserAgent string
}

// Transport is the HTTP plumbing shared by the server drivers: base URL
// resolution, rate limiting, an authorisation hook and mapping of response
// statuses onto the error taxonomy.
type Transport struct {
	base      *url.URL
	hc        *http.Client
	limiter   *rate.Limiter
	userAgent string

	// Authorize, when set, decorates every outgoing request.
	Authorize func(*http.Request)
}

// NewTransport returns a Transport rooted at baseURL.
func NewTransport(baseURL string, opts TransportOptions) (*Transport, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Transport{
		base:      u,
		hc:        hc,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: ua,
	}, nil
}

// BaseURL returns the root every request path is appended to.
func (t *Transport) BaseURL() string { return t.base.String() }

// Request describes one call. At most one of Form and JSON is set.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	JSON   any
	Header http.Header
}

// Send performs r and decodes the response into out. out may be nil to
// discard the body, a *string to receive it raw, or any JSON target.
func (t *Transport) Send(ctx context.Context, op string, r Request, out any) error {
	req, err := t.newRequest(ctx, r)
	if err != nil {
		return ProtocolError(op, err)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return Classify(op, err)
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return Classify(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return StatusError(op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	switch dst := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *string:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return Classify(op, err)
		}
		*dst = string(b)
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if errors.Is(err, io.EOF) {
				return ProtocolError(op, errors.New("empty response body"))
			}
			return ProtocolError(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
}

func (t *Transport) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	u := *t.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.Authorize != nil {
		t.Authorize(req)
	}
	return req, nil
}

// StatusError classifies a non-2xx HTTP status.
func StatusError(op string, code int, body string) error {
	err := fmt.Errorf("unexpected status %d", code)
	if body != "" {
		err = fmt.Errorf("unexpected status %d: %s", code, body)
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return AuthError(op, err)
	case code == http.StatusConflict:
		return ConflictError(op, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return NetworkError(op, err)
	default:
		return ProtocolError(op, err)
	}
}
