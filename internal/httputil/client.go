// Package httputil provides a seam between outbound HTTP callers and the
// transport so deliveries can be tested without a network.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// Client is the outbound HTTP surface. Production code wraps *http.Client
// with NewStandardClient; tests substitute a MockClient.
type Client interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient adapts *http.Client to the Client interface.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, or http.DefaultClient when c is nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// MockClient records requests and replays canned responses in order.
type MockClient struct {
	mu           sync.Mutex
	DoFunc       func(req *http.Request) (*http.Response, error)
	Requests     []*http.Request
	Responses    []*MockResponse
	responseIdx  int
	DefaultError error
}

// MockResponse is one canned reply.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Error      error
}

// NewMockClient creates an empty mock client. With nothing queued it
// answers every request with an empty 200.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AddResponse queues a response for a subsequent request. Returns the
// client so calls can be chained.
func (m *MockClient) AddResponse(statusCode int, body string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    make(http.Header),
	})
	return m
}

// AddErrorResponse queues a transport-level failure.
func (m *MockClient) AddErrorResponse(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{Error: err})
	return m
}

// Do records the request and returns the next queued response. DoFunc,
// when set, takes over entirely; DefaultError fails every request.
func (m *MockClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	if m.responseIdx < len(m.Responses) {
		resp := m.Responses[m.responseIdx]
		m.responseIdx++
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &http.Response{
			StatusCode: resp.StatusCode,
			Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
			Header:     resp.Headers,
			Request:    req,
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request, or nil when out of range.
func (m *MockClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return nil
	}
	return m.Requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Reset clears recorded requests, queued responses and error state.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
	m.Responses = nil
	m.responseIdx = 0
	m.DefaultError = nil
	m.DoFunc = nil
}
