package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/auth"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "oasis",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "Time spent serving HTTP requests.",
}, []string{"code", "method"})

func instrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(requestDuration, next)
}

// requestLogger stamps every request's context with the request id, method,
// and path, and logs one line on completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := zlog.ContextWithValues(r.Context(),
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		zlog.Info(ctx).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

// recoverer converts a handler panic into a logged 500. Aborted handlers
// propagate so the server can drop the connection.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			switch {
			case v == nil:
			case v == http.ErrAbortHandler:
				panic(v)
			default:
				ctx := r.Context()
				zlog.Error(ctx).
					Str("panic", fmt.Sprint(v)).
					Msg("handler panicked")
				writeError(ctx, w, &oasis.Error{Kind: oasis.ErrInternal})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type bearerKey struct{}

// bearerAuth authenticates the Authorization header against the credential
// store and stashes the resolved key in the request context. Scope checks
// happen downstream, once the target app is known.
func bearerAuth(s *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				writeError(ctx, w, &oasis.Error{
					Kind:    oasis.ErrUnauthorized,
					Message: "missing bearer token",
				})
				return
			}
			key, err := s.AuthenticateBearer(ctx, token)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			ctx = context.WithValue(ctx, bearerKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerFrom returns the key bearerAuth resolved. It panics when called
// outside a bearer-authenticated route; that is a routing bug.
func bearerFrom(ctx context.Context) *oasis.APIKey {
	return ctx.Value(bearerKey{}).(*oasis.APIKey)
}

type publicKey struct{}

// sdkAuth authenticates the X-API-Key header. The slug in the URL plays no
// part here; handlers compare the key's app binding against the routed app.
func sdkAuth(s *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get("X-API-Key")
			if token == "" {
				writeError(ctx, w, &oasis.Error{
					Kind:    oasis.ErrUnauthorized,
					Message: "missing api key",
				})
				return
			}
			key, err := s.AuthenticatePublic(ctx, token)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			ctx = context.WithValue(ctx, publicKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// publicKeyFrom returns the key sdkAuth resolved.
func publicKeyFrom(ctx context.Context) *oasis.PublicAPIKey {
	return ctx.Value(publicKey{}).(*oasis.PublicAPIKey)
}

// limitBody caps the request body at n bytes before any decoding happens.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
