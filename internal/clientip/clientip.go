// Package clientip resolves the address of the client behind reverse
// proxies and CDNs.
package clientip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Info is the resolved client address of a request
type Info struct {
	// Primary is the best guess at the client IP, used for logs and traces.
	// It may come from any proxy header and must not be trusted.
	Primary string
	// RateLimitKey is the single address the deployment trusts: the value of
	// the trusted proxy header when one is configured and present, otherwise
	// the TCP peer.
	RateLimitKey string
}

// ProxyHeaders are consulted in order for Primary; the first valid address
// wins. X-Forwarded-For is handled separately (first hop only).
var ProxyHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
}

// ValidateTrustedHeader canonicalizes name and checks it is one of the
// headers a proxy can be trusted to set. Empty means trust only the TCP peer.
func ValidateTrustedHeader(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
	if canonical == "X-Forwarded-For" {
		return canonical, nil
	}
	for _, h := range ProxyHeaders {
		if http.CanonicalHeaderKey(h) == canonical {
			return canonical, nil
		}
	}
	return "", fmt.Errorf("unsupported proxy header %q", name)
}

// Middleware resolves the client address, rewrites r.RemoteAddr to the
// trusted address and stores Info in the request context. trustedHeader is
// the one header the fronting proxy overwrites; empty trusts only RemoteAddr.
func Middleware(trustedHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := Resolve(r, trustedHeader)
			r.RemoteAddr = info.RateLimitKey
			ctx := context.WithValue(r.Context(), contextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the Info stored by Middleware, or the zero Info
func FromContext(ctx context.Context) Info {
	info, _ := ctx.Value(contextKey{}).(Info)
	return info
}

// FromRequest is FromContext(r.Context())
func FromRequest(r *http.Request) Info {
	return FromContext(r.Context())
}

// Resolve computes Info from the request headers and RemoteAddr
func Resolve(r *http.Request, trustedHeader string) Info {
	remote := hostIP(r.RemoteAddr)

	trusted := remote
	if trustedHeader != "" {
		if ip := trustedAddress(r, trustedHeader); ip != "" {
			trusted = ip
		}
	}

	primary := ""
	for _, header := range ProxyHeaders {
		if ip := parseIP(r.Header.Get(header)); ip != "" {
			primary = ip
			break
		}
	}
	if primary == "" {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			primary = parseIP(first)
		}
	}
	if primary == "" {
		primary = trusted
	}

	return Info{
		Primary:      primary,
		RateLimitKey: trusted,
	}
}

// trustedAddress reads the trusted header. For X-Forwarded-For the last hop
// is used: it is the one appended by the proxy itself.
func trustedAddress(r *http.Request, header string) string {
	if http.CanonicalHeaderKey(header) == "X-Forwarded-For" {
		values := r.Header.Values("X-Forwarded-For")
		if len(values) == 0 {
			return ""
		}
		hops := strings.Split(values[len(values)-1], ",")
		return parseIP(hops[len(hops)-1])
	}
	return parseIP(r.Header.Get(header))
}

// parseIP returns the canonical form of s, or "" if s is not an IP address
func parseIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// hostIP strips the port from a RemoteAddr-style value
func hostIP(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := parseIP(strings.Trim(addr, "[]")); ip != "" {
		return ip
	}
	return addr
}
