package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nwvaras/lebrely-backend/internal/clientip"
)

// spanEnricher tags the request span with the request ID and client IP
func spanEnricher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("request.id", middleware.GetReqID(r.Context())),
				attribute.String("client.ip", clientip.FromRequest(r).Primary),
			)
		}
		next.ServeHTTP(w, r)
	})
}
