package clientip

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		remoteAddr  string
		trusted     string
		headers     map[string]string
		wantPrimary string
		wantKey     string
	}{
		{
			name:        "remote addr only",
			remoteAddr:  "10.0.0.1:4321",
			wantPrimary: "10.0.0.1",
			wantKey:     "10.0.0.1",
		},
		{
			name:        "ipv6 remote addr",
			remoteAddr:  "[2001:db8::1]:8080",
			wantPrimary: "2001:db8::1",
			wantKey:     "2001:db8::1",
		},
		{
			name:        "untrusted headers only affect primary",
			remoteAddr:  "10.0.0.1:4321",
			headers:     map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Real-IP": "198.51.100.7"},
			wantPrimary: "203.0.113.9",
			wantKey:     "10.0.0.1",
		},
		{
			name:        "x-forwarded-for first hop for primary",
			remoteAddr:  "10.0.0.1:4321",
			headers:     map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"},
			wantPrimary: "203.0.113.9",
			wantKey:     "10.0.0.1",
		},
		{
			name:        "trusted header keys the client",
			remoteAddr:  "10.0.0.1:4321",
			trusted:     "X-Real-IP",
			headers:     map[string]string{"X-Real-IP": "198.51.100.7", "CF-Connecting-IP": "203.0.113.9"},
			wantPrimary: "203.0.113.9",
			wantKey:     "198.51.100.7",
		},
		{
			name:        "trusted x-forwarded-for uses last hop",
			remoteAddr:  "10.0.0.1:4321",
			trusted:     "X-Forwarded-For",
			headers:     map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.9"},
			wantPrimary: "1.2.3.4",
			wantKey:     "203.0.113.9",
		},
		{
			name:        "trusted header missing falls back to peer",
			remoteAddr:  "10.0.0.1:4321",
			trusted:     "CF-Connecting-IP",
			wantPrimary: "10.0.0.1",
			wantKey:     "10.0.0.1",
		},
		{
			name:        "garbage trusted header falls back to peer",
			remoteAddr:  "10.0.0.1:4321",
			trusted:     "X-Real-IP",
			headers:     map[string]string{"X-Real-IP": "not-an-ip"},
			wantPrimary: "10.0.0.1",
			wantKey:     "10.0.0.1",
		},
		{
			name:        "ipv4-mapped address is unmapped",
			remoteAddr:  "[::ffff:192.0.2.1]:80",
			wantPrimary: "192.0.2.1",
			wantKey:     "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			info := Resolve(req, tt.trusted)
			if info.Primary != tt.wantPrimary {
				t.Errorf("Primary = %q, want %q", info.Primary, tt.wantPrimary)
			}
			if info.RateLimitKey != tt.wantKey {
				t.Errorf("RateLimitKey = %q, want %q", info.RateLimitKey, tt.wantKey)
			}
		})
	}
}

func TestResolve_RotatingHeaderKeepsKey(t *testing.T) {
	for _, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:4321"
		req.Header.Set("X-Real-IP", ip)
		req.Header.Set("X-Forwarded-For", ip)
		req.Header.Set("CF-Connecting-IP", ip)

		if got := Resolve(req, "").RateLimitKey; got != "10.0.0.1" {
			t.Fatalf("RateLimitKey = %q for header %s, want peer address", got, ip)
		}
	}
}

func TestValidateTrustedHeader(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "x-real-ip", want: "X-Real-Ip"},
		{in: "X-Forwarded-For", want: "X-Forwarded-For"},
		{in: "cf-connecting-ip", want: "Cf-Connecting-Ip"},
		{in: "X-Client-Whatever", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ValidateTrustedHeader(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	var got Info
	var remote string
	handler := Middleware("X-Real-IP")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromRequest(r)
		remote = r.RemoteAddr
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	req.Header.Set("X-Real-IP", "198.51.100.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.RateLimitKey != "198.51.100.7" {
		t.Errorf("RateLimitKey = %q", got.RateLimitKey)
	}
	if remote != "198.51.100.7" {
		t.Errorf("RemoteAddr = %q, want rewritten to trusted address", remote)
	}
}

func TestFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if info := FromRequest(req); info != (Info{}) {
		t.Errorf("expected zero Info, got %+v", info)
	}
}
