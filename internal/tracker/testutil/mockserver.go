// Package testutil provides in-memory and HTTP test doubles for tracker
// targets.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// RecordedRequest is one request seen by a RecordingServer.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// RecordingServer is an httptest server that records every request and can
// inject auth failures, throttling and outages in front of its handler.
type RecordingServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	handler  http.HandlerFunc

	authError  bool
	throttled  int // requests left to answer with 429
	retryAfter string
	outages    int // requests left to answer with 503
	outagePath string
}

// NewRecordingServer starts a server that answers 404 until a handler is set.
func NewRecordingServer() *RecordingServer {
	m := &RecordingServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

func (m *RecordingServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	switch {
	case m.authError:
		m.mu.Unlock()
		writeStatus(w, http.StatusUnauthorized, map[string]string{"message": "TF400813: not authorized"})
		return
	case m.throttled > 0:
		m.throttled--
		after := m.retryAfter
		m.mu.Unlock()
		if after != "" {
			w.Header().Set("Retry-After", after)
		}
		writeStatus(w, http.StatusTooManyRequests, map[string]string{"message": "request was throttled"})
		return
	case m.outages > 0 && strings.Contains(r.URL.Path, m.outagePath):
		m.outages--
		m.mu.Unlock()
		writeStatus(w, http.StatusServiceUnavailable, map[string]string{"message": "service unavailable"})
		return
	}
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		writeStatus(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	handler(w, r)
}

// URL returns the server's base URL.
func (m *RecordingServer) URL() string { return m.Server.URL }

// Close shuts the server down.
func (m *RecordingServer) Close() { m.Server.Close() }

// Handle sets the handler for requests that pass fault injection.
func (m *RecordingServer) Handle(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SetAuthError makes every request fail with 401.
func (m *RecordingServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// SetRateLimited answers the next n requests with 429 and the given
// Retry-After value (omitted when empty).
func (m *RecordingServer) SetRateLimited(n int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttled = n
	m.retryAfter = retryAfter
}

// SetServerErrors answers the next n requests whose path contains
// pathContains with 503.
func (m *RecordingServer) SetServerErrors(n int, pathContains string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outages = n
	m.outagePath = pathContains
}

// GetRequests returns a copy of the recorded requests.
func (m *RecordingServer) GetRequests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// GetRequestCount returns the number of recorded requests.
func (m *RecordingServer) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CountRequests counts recorded requests with method whose path contains
// pathContains.
func (m *RecordingServer) CountRequests(method, pathContains string) int {
	n := 0
	for _, r := range m.GetRequests() {
		if r.Method == method && strings.Contains(r.Path, pathContains) {
			n++
		}
	}
	return n
}

func writeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeStatus(w, http.StatusOK, v)
}

// lastInt returns the last path segment that parses as an integer.
func lastInt(path string) (int, bool) {
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if id, err := strconv.Atoi(parts[i]); err == nil {
			return id, true
		}
	}
	return 0, false
}
