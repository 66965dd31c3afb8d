package testutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

// TestServer wraps a real HTTP server for integration testing, so requests
// go through the full middleware chain.
type TestServer struct {
	Server *http.Server
	URL    string
	Env    *TestEnvironment
}

// StartTestServer serves handler on a random local port until the test ends.
//
// Usage:
//
//	env := testutil.SetupTestEnvironment(t)
//	ts := testutil.StartTestServer(t, env, api.NewServer(...).SetupRoutes())
func StartTestServer(t *testing.T, env *TestEnvironment, handler http.Handler) *TestServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Logf("test server error: %v", err)
		}
	}()

	if err := waitForServer(baseURL, 5*time.Second); err != nil {
		t.Fatalf("server failed to start: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Logf("warning: server shutdown error: %v", err)
		}
	})

	return &TestServer{Server: server, URL: baseURL, Env: env}
}

// waitForServer polls /health until it answers 200 or timeout is reached
func waitForServer(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 100 * time.Millisecond}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
