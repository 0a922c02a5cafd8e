// Package fallback produces the degraded response served when every caching
// strategy has failed: the cached offline page for navigations, a cached API
// payload when one exists, and otherwise a synthesized 503. Resolution never
// touches the network and never fails.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ashour158/Desk-sub003/internal/logging"
	"github.com/Ashour158/Desk-sub003/internal/partition"
)

// offlineMessage is the body message of the synthesized offline response.
const offlineMessage = "No network connection and no cached data available"

// Matcher is the cache lookup surface the resolver needs. *partition.Store
// satisfies it.
type Matcher interface {
	Match(ctx context.Context, role partition.Role, req *http.Request) (*http.Response, bool)
}

// Resolver serves offline fallbacks from the cache store.
type Resolver struct {
	store      Matcher
	offlineURL *url.URL
	logger     *logging.Logger
}

// NewResolver creates a fallback resolver. offlineURL is the designated
// offline page, an absolute http(s) URL present in the static manifest so
// the page is cached at install time. An empty offlineURL disables the
// offline-page tier; navigations then fall through like any other request.
func NewResolver(store Matcher, offlineURL string, logger *logging.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store cannot be nil")
	}

	var parsed *url.URL
	if offlineURL != "" {
		var err error
		parsed, err = url.Parse(offlineURL)
		if err != nil {
			return nil, fmt.Errorf("invalid offline page URL %q: %w", offlineURL, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("offline page URL %q must be absolute http(s)", offlineURL)
		}
	}

	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Resolver{
		store:      store,
		offlineURL: parsed,
		logger:     logger,
	}, nil
}

// Resolve returns the best available degraded response for the request.
// Navigations get the cached offline page; other requests get a cached API
// payload when one exists; the synthesized 503 is the floor. The returned
// response is never nil.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) *http.Response {
	if req == nil {
		return r.synthesize(nil)
	}

	if isNavigation(req) {
		if res, ok := r.matchOfflinePage(ctx); ok {
			r.logTier(ctx, req, "offline-page")
			return res
		}
	}

	if res, ok := r.store.Match(ctx, partition.RoleAPI, req); ok {
		r.logTier(ctx, req, "api-cache")
		return res
	}

	r.logTier(ctx, req, "synthetic")
	return r.synthesize(req)
}

func (r *Resolver) matchOfflinePage(ctx context.Context) (*http.Response, bool) {
	if r.offlineURL == nil {
		return nil, false
	}
	pageReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.offlineURL.String(), nil)
	if err != nil {
		return nil, false
	}
	return r.store.Match(ctx, partition.RoleStatic, pageReq)
}

func (r *Resolver) logTier(ctx context.Context, req *http.Request, tier string) {
	target := ""
	if req != nil && req.URL != nil {
		target = req.URL.String()
	}
	r.logger.WithOperation(logging.OpFallback).WithURL(target).Debug(ctx,
		"offline fallback served", "tier", tier)
}

// offlineBody is the fixed JSON shape of the synthesized offline response.
type offlineBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// synthesize builds the 503 Service Unavailable floor response.
func (r *Resolver) synthesize(req *http.Request) *http.Response {
	payload := offlineBody{
		Error:     "Offline",
		Message:   offlineMessage,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"error":"Offline"}`)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable)),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}
}

// isNavigation reports whether the request is a full-page navigation. The
// Sec-Fetch-Mode header is authoritative when present; otherwise a GET whose
// Accept header prefers HTML is treated as a navigation.
func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	if req.Method != http.MethodGet {
		return false
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
