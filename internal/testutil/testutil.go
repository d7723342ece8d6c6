package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/storage"
	"github.com/giantswarm/oauth2-server/storage/memory"
)

// Demo fixture identifiers, matching storage.DemoFixtures
const (
	DemoClient1 = "http://democlient1.com/"
	DemoClient2 = "http://democlient2.com/"
	DemoClient3 = "http://democlient3.com/"
	DemoClient4 = "http://democlient4.com/"

	DemoSecret1 = "demosecret1"
	DemoSecret2 = "demosecret2"
	DemoSecret3 = "demosecret3"
	DemoSecret4 = "demosecret4"

	DemoRedirect1 = "http://democlient1.com/redirect_uri"
	DemoRedirect2 = "http://democlient2.com/redirect_uri"
	DemoRedirect3 = "http://democlient3.com/redirect_uri"

	DemoUser1 = "demousername1"
	DemoUser2 = "demousername2"
	DemoUser3 = "demousername3"

	DemoPassword1 = "demopassword1"
	DemoPassword2 = "demopassword2"
	DemoPassword3 = "demopassword3"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// NewSeededStore returns an in-memory store loaded with the demo fixtures.
// Secrets are hashed at the minimum bcrypt cost to keep tests fast.
func NewSeededStore(t *testing.T) *memory.Store {
	t.Helper()

	store := memory.New()
	if err := storage.Seed(context.Background(), store, storage.DemoFixtures(), bcrypt.MinCost); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	return store
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithForm sets a form-encoded body
func (r *HTTPRequest) WithForm(body string) *HTTPRequest {
	r.Body = body
	r.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	return r
}

// WithBasicAuth sets HTTP Basic credentials
func (r *HTTPRequest) WithBasicAuth(username, password string) *HTTPRequest {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(username, password)
	r.Headers["Authorization"] = req.Header.Get("Authorization")
	return r
}

// WithClientBasicAuth sets HTTP Basic client credentials, form-encoding both parts
// the way OAuth2 clients do before base64 encoding
func (r *HTTPRequest) WithClientBasicAuth(clientID, secret string) *HTTPRequest {
	return r.WithBasicAuth(url.QueryEscape(clientID), url.QueryEscape(secret))
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.Method, r.URL, strings.NewReader(r.Body))
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
