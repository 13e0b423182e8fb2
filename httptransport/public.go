package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oasishq/oasis/updates"
)

// publicAPI serves unauthenticated clients: the in-app updater polling for
// manifests and browsers fetching installers. Both routes are idempotent
// reads.
type publicAPI struct {
	updates *updates.Service
}

// Register mounts the public routes under an app slug.
func (p *publicAPI) Register(r chi.Router) {
	r.Get("/update/{target}/{current}", p.checkUpdate)
	// Tauri emits the target as separate os and arch segments depending on
	// the updater endpoint template; accept both spellings.
	r.Get("/update/{os}/{arch}/{current}", p.checkUpdateOSArch)
	r.Get("/download/{platform}", p.download)
	r.Get("/download/{platform}/{version}", p.download)
}

func (p *publicAPI) checkUpdate(w http.ResponseWriter, r *http.Request) {
	p.serveManifest(w, r, chi.URLParam(r, "target"))
}

func (p *publicAPI) checkUpdateOSArch(w http.ResponseWriter, r *http.Request) {
	p.serveManifest(w, r, chi.URLParam(r, "os")+"-"+chi.URLParam(r, "arch"))
}

func (p *publicAPI) serveManifest(w http.ResponseWriter, r *http.Request, target string) {
	ctx := r.Context()
	m, err := p.updates.Check(ctx, chi.URLParam(r, "slug"), target, chi.URLParam(r, "current"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if m == nil {
		// Up to date, or nothing serviceable for this platform.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(ctx, w, http.StatusOK, m)
}

func (p *publicAPI) download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := p.updates.ResolveInstaller(ctx,
		chi.URLParam(r, "slug"),
		chi.URLParam(r, "platform"),
		chi.URLParam(r, "version"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(ctx, w, http.StatusOK, d)
		return
	}
	http.Redirect(w, r, d.URL, http.StatusFound)
}
