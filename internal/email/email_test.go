package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewRateLimiter()
		for i := 0; i < 5; i++ {
			if !limiter.Allow("a@example.com", 5) {
				t.Errorf("expected request %d to be allowed", i+1)
			}
			limiter.Record("a@example.com")
		}
		if limiter.Allow("a@example.com", 5) {
			t.Error("expected sixth request to be denied")
		}
	})

	t.Run("different keys have separate limits", func(t *testing.T) {
		limiter := NewRateLimiter()
		for i := 0; i < 3; i++ {
			limiter.Record("a@example.com")
		}
		if limiter.Allow("a@example.com", 3) {
			t.Error("expected a@example.com to be denied")
		}
		if !limiter.Allow("b@example.com", 3) {
			t.Error("expected b@example.com to be allowed")
		}
	})

	t.Run("old sends expire after an hour", func(t *testing.T) {
		limiter := NewRateLimiter()
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }
		limiter.Record("a@example.com")
		limiter.Record("a@example.com")

		if limiter.Allow("a@example.com", 2) {
			t.Fatal("expected limit to be reached")
		}

		now = now.Add(61 * time.Minute)
		if !limiter.Allow("a@example.com", 2) {
			t.Error("expected limit to reset after an hour")
		}
	})
}

func TestRateLimitedService(t *testing.T) {
	mock := NewMockService()
	svc := NewRateLimitedService(mock, 2)
	ctx := context.Background()

	params := PasswordResetParams{ToEmail: "User@Example.com", ResetURL: "http://x/reset?token=t"}
	for i := 0; i < 2; i++ {
		if err := svc.SendPasswordReset(ctx, params); err != nil {
			t.Fatalf("send %d: unexpected error %v", i+1, err)
		}
	}

	// Same recipient with different casing shares the limit
	params.ToEmail = "user@example.com"
	if err := svc.SendPasswordReset(ctx, params); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
	if got := len(mock.Sent()); got != 2 {
		t.Errorf("expected 2 emails sent, got %d", got)
	}
}

func TestRateLimitedService_ConcurrentSendsRespectLimit(t *testing.T) {
	mock := NewMockService()
	svc := NewRateLimitedService(mock, 3)
	params := PasswordResetParams{ToEmail: "race@example.com", ResetURL: "http://x/reset?token=t"}

	var wg sync.WaitGroup
	var limited atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.SendPasswordReset(context.Background(), params); errors.Is(err, ErrRateLimitExceeded) {
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := len(mock.Sent()); got != 3 {
		t.Errorf("sent %d emails, want 3", got)
	}
	if got := limited.Load(); got != 47 {
		t.Errorf("limited %d sends, want 47", got)
	}
}

func TestRateLimiter_AllowAndRecord(t *testing.T) {
	limiter := NewRateLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !limiter.AllowAndRecord("a@example.com", 2) {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}
	if limiter.AllowAndRecord("a@example.com", 2) {
		t.Error("third send should be limited")
	}

	now = now.Add(time.Hour + time.Second)
	if !limiter.AllowAndRecord("a@example.com", 2) {
		t.Error("send after an hour should be allowed")
	}
}

func TestResendService_SendPasswordReset(t *testing.T) {
	var got resendRequest
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer srv.Close()

	svc := NewResendService("re_test", "noreply@lebrely.dev", "Lebrely")
	svc.endpoint = srv.URL

	err := svc.SendPasswordReset(context.Background(), PasswordResetParams{
		ToEmail:   "user@example.com",
		Name:      "Ada",
		ResetURL:  "https://app.lebrely.dev/reset-password?token=lbp_abc",
		ExpiresAt: time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if authHeader != "Bearer re_test" {
		t.Errorf("expected bearer API key, got %q", authHeader)
	}
	if got.From != "Lebrely <noreply@lebrely.dev>" {
		t.Errorf("unexpected from: %q", got.From)
	}
	if len(got.To) != 1 || got.To[0] != "user@example.com" {
		t.Errorf("unexpected to: %v", got.To)
	}
	if !strings.Contains(got.HTML, "https://app.lebrely.dev/reset-password?token=lbp_abc") {
		t.Error("expected reset URL in HTML body")
	}
	if !strings.Contains(got.Text, "Hi Ada") {
		t.Errorf("expected greeting in text body, got %q", got.Text)
	}
	if !strings.Contains(got.Text, "10:30 UTC, March 4, 2025") {
		t.Errorf("expected UTC expiry in text body, got %q", got.Text)
	}
}

func TestResendService_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()

	svc := NewResendService("re_test", "bad", "Lebrely")
	svc.endpoint = srv.URL

	err := svc.SendPasswordReset(context.Background(), PasswordResetParams{ToEmail: "user@example.com"})
	if err == nil || !strings.Contains(err.Error(), "status 422") {
		t.Errorf("expected status 422 error, got %v", err)
	}
}

func TestRenderText_DefaultName(t *testing.T) {
	text := renderText(PasswordResetParams{ResetURL: "u"})
	if !strings.HasPrefix(text, "Hi there,") {
		t.Errorf("expected default greeting, got %q", text)
	}
}
