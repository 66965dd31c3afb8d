package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

// TestClient makes requests against a TestServer, optionally with a bearer token
type TestClient struct {
	*http.Client
	t     *testing.T
	ts    *TestServer
	token string
}

// NewTestClient creates an unauthenticated client for the given server
func NewTestClient(t *testing.T, ts *TestServer) *TestClient {
	t.Helper()
	return &TestClient{
		Client: &http.Client{Timeout: 10 * time.Second},
		t:      t,
		ts:     ts,
	}
}

// WithToken returns a copy of the client that sends the access token
func (c *TestClient) WithToken(accessToken string) *TestClient {
	return &TestClient{
		Client: c.Client,
		t:      c.t,
		ts:     c.ts,
		token:  accessToken,
	}
}

// Request makes an HTTP request to the test server.
// Body can be nil, an io.Reader, []byte, a string or a value to JSON encode.
func (c *TestClient) Request(method, path string, body any) (*http.Response, error) {
	return c.RequestWithHeaders(method, path, body, nil)
}

// RequestWithHeaders makes an HTTP request with custom headers
func (c *TestClient) RequestWithHeaders(method, path string, body any, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		switch v := body.(type) {
		case io.Reader:
			bodyReader = v
		case []byte:
			bodyReader = bytes.NewReader(v)
		case string:
			bodyReader = bytes.NewReader([]byte(v))
		default:
			jsonBytes, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonBytes)
		}
	}

	req, err := http.NewRequest(method, c.ts.URL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.Client.Do(req)
}

// Get makes a GET request
func (c *TestClient) Get(path string) (*http.Response, error) {
	return c.Request(http.MethodGet, path, nil)
}

// Post makes a POST request with a JSON body
func (c *TestClient) Post(path string, body any) (*http.Response, error) {
	return c.Request(http.MethodPost, path, body)
}

// Put makes a PUT request with a JSON body
func (c *TestClient) Put(path string, body any) (*http.Response, error) {
	return c.Request(http.MethodPut, path, body)
}

// Delete makes a DELETE request
func (c *TestClient) Delete(path string) (*http.Response, error) {
	return c.Request(http.MethodDelete, path, nil)
}

// ParseJSON decodes the response body as JSON into v and closes the body
func ParseJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("failed to decode response JSON: %v. Body: %s", err, string(body))
	}
}

// RequireStatus fails the test with the response body if the status differs
func RequireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
}

// Detail decodes an error response and returns its "detail" field
func Detail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	ParseJSON(t, resp, &body)
	return body.Detail
}
