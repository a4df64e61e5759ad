// Package httpx is the shared HTTP session used for all provider traffic:
// one tuned client with a cookie jar persisted through the settings store,
// a mutable base-header set, optional bearer authorization, redirect
// control and response decompression.
package httpx

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

// Request describes one provider call. Form and JSON are mutually
// exclusive bodies; nil means no body.
type Request struct {
	Method  string
	URL     string
	Form    url.Values
	JSON    any
	Headers map[string]string // per-request additions on top of the base set
	// NoRedirect stops the client at the first response so the caller can
	// inspect 302 Location headers (the login handshakes depend on this).
	NoRedirect bool
}

// Response is a fully-read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Location returns the redirect target, or "".
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// Session is safe for use from a single logical caller; the session manager
// serializes authenticated requests on top of it.
type Session struct {
	follow   *http.Client
	noFollow *http.Client
	jar      *persistentJar
	limiter  *rate.Limiter

	mu     sync.Mutex
	base   map[string]string
	bearer string
}

// CookieStore is the slice of the settings store the jar persists through.
type CookieStore interface {
	Get(key string) string
	Set(key, value string) error
	Remove(key string) error
}

// NewSession builds a session whose cookies persist under cookieKey in
// store. userAgent is attached to every request.
func NewSession(store CookieStore, cookieKey, userAgent string) *Session {
	jar := newPersistentJar(store, cookieKey)
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		// Accept-Encoding is managed here, with brotli on top of what
		// net/http decodes natively.
		DisableCompression: true,
	}
	s := &Session{
		follow: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
			Jar:       jar,
		},
		noFollow: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		jar:     jar,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		base:    map[string]string{"User-Agent": userAgent},
	}
	return s
}

// SetBaseHeaders replaces the base header set (the User-Agent survives
// unless overridden).
func (s *Session) SetBaseHeaders(h map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ua := s.base["User-Agent"]
	s.base = map[string]string{}
	if ua != "" {
		s.base["User-Agent"] = ua
	}
	for k, v := range h {
		s.base[k] = v
	}
}

// SetBearer attaches (or with "" removes) an Authorization: Bearer header.
func (s *Session) SetBearer(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearer = token
}

// ClearCookies wipes the in-memory jar and its persisted copy.
func (s *Session) ClearCookies() {
	s.jar.clear()
}

// Do performs req and returns the fully-read response. The error covers
// transport failures only; status handling is the caller's concern.
func (s *Session) Do(ctx context.Context, req Request) (*Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	hreq, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	client := s.follow
	if req.NoRedirect {
		client = s.noFollow
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("httpx: read %s: %w", req.URL, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (s *Session) build(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("httpx: marshal body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json;charset=UTF-8"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for k, v := range s.base {
		hreq.Header.Set(k, v)
	}
	if s.bearer != "" {
		hreq.Header.Set("Authorization", "Bearer "+s.bearer)
	}
	s.mu.Unlock()

	if contentType != "" && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if hreq.Header.Get("Accept-Encoding") == "" {
		hreq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	return hreq, nil
}

// decodeBody reads the response body, undoing whatever Content-Encoding the
// upstream picked from our Accept-Encoding offer.
func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		r = fl
	case "br":
		r = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(r)
}
