package httptransport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/auth"
	"github.com/oasishq/oasis/catalog"
	"github.com/oasishq/oasis/ingest"
)

// sdkAPI accepts telemetry from shipped clients. The slug in the path only
// routes; what the key was minted for decides which app the data lands in,
// and a mismatch between the two is refused rather than silently rebound.
type sdkAPI struct {
	auth    *auth.Service
	catalog *catalog.Service
	ingest  *ingest.Service
}

// Register mounts the SDK routes under an app slug.
func (s *sdkAPI) Register(r chi.Router) {
	r.Use(sdkAuth(s.auth))
	r.Use(decompressBody)
	r.With(limitBody(maxCrashBytes)).Post("/crashes", s.submitCrash)
	r.With(limitBody(maxBodyBytes)).Post("/feedback", s.submitFeedback)
}

// app resolves the routed slug and checks it against the key's binding.
func (s *sdkAPI) app(ctx context.Context, r *http.Request) (*oasis.App, error) {
	app, err := s.catalog.AppBySlug(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		return nil, err
	}
	if key := publicKeyFrom(ctx); key.AppID != app.ID {
		return nil, &oasis.Error{
			Kind:    oasis.ErrForbidden,
			Message: "key is not valid for this app",
		}
	}
	return app, nil
}

func (s *sdkAPI) submitCrash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := s.app(ctx, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var p ingest.CrashParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	report, group, err := s.ingest.SubmitCrash(ctx, app.ID, publicKeyFrom(ctx).ID, p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, struct {
		ID           string `json:"id"`
		CrashGroupID string `json:"crash_group_id"`
		Fingerprint  string `json:"fingerprint"`
	}{report.ID, group.ID, group.Fingerprint})
}

func (s *sdkAPI) submitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := s.app(ctx, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var p ingest.FeedbackParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	fb, err := s.ingest.SubmitFeedback(ctx, app.ID, publicKeyFrom(ctx).ID, p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, fb)
}

// decompressBody transparently inflates gzip request bodies. SDKs compress
// crash submissions because stack traces and breadcrumb trails compress
// well over consumer uplinks. The body cap downstream applies to the
// inflated byte count, which is the one that matters for decode cost.
func decompressBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		switch enc := r.Header.Get("Content-Encoding"); {
		case enc == "" || strings.EqualFold(enc, "identity"):
		case strings.EqualFold(enc, "gzip"):
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				writeError(ctx, w, &oasis.Error{
					Kind:    oasis.ErrValidation,
					Message: "malformed gzip body",
					Inner:   err,
				})
				return
			}
			r.Body = gzipBody{Reader: gz, raw: r.Body}
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		default:
			writeError(ctx, w, &oasis.Error{
				Kind:    oasis.ErrValidation,
				Message: fmt.Sprintf("unsupported content encoding %q", enc),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// gzipBody closes the inflater and the underlying body together.
type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b gzipBody) Close() error {
	err := b.Reader.Close()
	if cerr := b.raw.Close(); err == nil {
		err = cerr
	}
	return err
}
