package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/auth"
	"github.com/oasishq/oasis/catalog"
	"github.com/oasishq/oasis/datastore"
	"github.com/oasishq/oasis/ingest"
)

// adminAPI is the bearer-authenticated management surface. Key minting and
// the app collection require admin scope; everything beneath a single app
// also accepts a CI key bound to that app.
type adminAPI struct {
	auth    *auth.Service
	catalog *catalog.Service
	ingest  *ingest.Service
}

// Register mounts the admin routes.
func (a *adminAPI) Register(r chi.Router) {
	r.Use(bearerAuth(a.auth))
	r.Use(limitBody(maxBodyBytes))

	r.Route("/api-keys", func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Post("/", a.createKey)
		r.Get("/", a.listKeys)
		r.Delete("/{keyID}", a.revokeKey)
	})

	r.Route("/apps", func(r chi.Router) {
		r.With(a.requireAdmin).Post("/", a.createApp)
		r.With(a.requireAdmin).Get("/", a.listApps)
		r.Route("/{appID}", func(r chi.Router) {
			r.Use(a.requireApp)
			r.Get("/", a.getApp)
			r.Patch("/", a.updateApp)
			r.Delete("/", a.deleteApp)

			r.Route("/public-keys", func(r chi.Router) {
				r.Post("/", a.createPublicKey)
				r.Get("/", a.listPublicKeys)
				r.Delete("/{keyID}", a.revokePublicKey)
			})

			r.Route("/releases", func(r chi.Router) {
				r.Post("/", a.createRelease)
				r.Get("/", a.listReleases)
				r.Route("/{releaseID}", func(r chi.Router) {
					r.Get("/", a.getRelease)
					r.Patch("/", a.updateRelease)
					r.Delete("/", a.deleteRelease)
					r.Post("/publish", a.publishRelease)
					r.Post("/archive", a.archiveRelease)

					r.Route("/artifacts", func(r chi.Router) {
						r.Get("/", a.listArtifacts)
						r.Post("/", a.createArtifact)
						r.Post("/presign", a.presignArtifact)
						r.Post("/{artifactID}/confirm", a.confirmArtifact)
						r.Delete("/{artifactID}", a.deleteArtifact)
					})

					r.Route("/installers", func(r chi.Router) {
						r.Get("/", a.listInstallers)
						r.Post("/", a.createInstaller)
						r.Post("/presign", a.presignInstaller)
						r.Post("/{installerID}/confirm", a.confirmInstaller)
						r.Delete("/{installerID}", a.deleteInstaller)
					})
				})
			})

			r.Route("/crash-groups", func(r chi.Router) {
				r.Get("/", a.listCrashGroups)
				r.Get("/{groupID}", a.getCrashGroup)
				r.Patch("/{groupID}", a.updateCrashGroup)
				r.Get("/{groupID}/reports", a.listCrashReports)
			})
			r.Get("/crash-reports/{reportID}", a.getCrashReport)
			r.Get("/crash-stats", a.crashStats)

			r.Route("/feedback", func(r chi.Router) {
				r.Get("/", a.listFeedback)
				r.Delete("/{feedbackID}", a.deleteFeedback)
			})
		})
	})
}

// requireAdmin rejects CI-scoped keys.
func (a *adminAPI) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if key := bearerFrom(ctx); key.Scope != oasis.ScopeAdmin {
			writeError(ctx, w, &oasis.Error{
				Kind:    oasis.ErrForbidden,
				Message: "admin scope required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireApp rejects keys that are not authorized for the routed app. The
// app id is taken at face value here; a CI key probing a foreign or made-up
// id gets a 403 without a lookup.
func (a *adminAPI) requireApp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if key := bearerFrom(ctx); !key.AllowsApp(chi.URLParam(r, "appID")) {
			writeError(ctx, w, &oasis.Error{
				Kind:    oasis.ErrForbidden,
				Message: "key is not authorized for this app",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Keys

func (a *adminAPI) createKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p struct {
		Name  string         `json:"name"`
		Scope oasis.KeyScope `json:"scope"`
		AppID *string        `json:"app_id,omitempty"`
	}
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	plaintext, key, err := a.auth.CreateKey(ctx, p.Name, p.Scope, p.AppID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	// The plaintext exists in this response and nowhere else.
	writeJSON(ctx, w, http.StatusCreated, struct {
		Key    string        `json:"key"`
		APIKey *oasis.APIKey `json:"api_key"`
	}{plaintext, key})
}

func (a *adminAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keys, err := a.auth.ListKeys(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, keys)
}

func (a *adminAPI) revokeKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.auth.RevokeKey(ctx, chi.URLParam(r, "keyID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminAPI) createPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	plaintext, key, err := a.auth.CreatePublicKey(ctx, chi.URLParam(r, "appID"), p.Name)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, struct {
		Key       string              `json:"key"`
		PublicKey *oasis.PublicAPIKey `json:"public_key"`
	}{plaintext, key})
}

func (a *adminAPI) listPublicKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keys, err := a.auth.ListPublicKeys(ctx, chi.URLParam(r, "appID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, keys)
}

func (a *adminAPI) revokePublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.auth.RevokePublicKey(ctx, chi.URLParam(r, "keyID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Apps

func (a *adminAPI) createApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.CreateAppParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	app, err := a.catalog.CreateApp(ctx, p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, app)
}

func (a *adminAPI) listApps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apps, total, err := a.catalog.ListApps(ctx, datastore.AppListOpts{
		Page:   pageFrom(r),
		Search: r.URL.Query().Get("search"),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, listResponse[datastore.AppSummary]{Items: apps, Total: total})
}

func (a *adminAPI) getApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := a.catalog.App(ctx, chi.URLParam(r, "appID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, app)
}

func (a *adminAPI) updateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.UpdateAppParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	app, err := a.catalog.UpdateApp(ctx, chi.URLParam(r, "appID"), p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, app)
}

func (a *adminAPI) deleteApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.catalog.DeleteApp(ctx, chi.URLParam(r, "appID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Releases

func (a *adminAPI) createRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p struct {
		Version string  `json:"version"`
		Notes   *string `json:"notes,omitempty"`
	}
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	rel, err := a.catalog.CreateRelease(ctx, chi.URLParam(r, "appID"), p.Version, p.Notes)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, rel)
}

func (a *adminAPI) listReleases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rels, total, err := a.catalog.ListReleases(ctx, datastore.ReleaseListOpts{
		AppID:  chi.URLParam(r, "appID"),
		Status: oasis.ReleaseStatus(r.URL.Query().Get("status")),
		Page:   pageFrom(r),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, listResponse[oasis.Release]{Items: rels, Total: total})
}

func (a *adminAPI) getRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rel, err := a.catalog.Release(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, rel)
}

func (a *adminAPI) updateRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p struct {
		Notes *string `json:"notes"`
	}
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	rel, err := a.catalog.UpdateReleaseNotes(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), p.Notes)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, rel)
}

func (a *adminAPI) deleteRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.catalog.DeleteRelease(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminAPI) publishRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rel, err := a.catalog.PublishRelease(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, rel)
}

func (a *adminAPI) archiveRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rel, err := a.catalog.ArchiveRelease(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, rel)
}

// Artifacts

// artifactGrant is the presign response. The client must PUT to
// PresignedURL with exactly the Content-Type echoed here.
type artifactGrant struct {
	ArtifactID   string `json:"artifact_id"`
	StorageKey   string `json:"storage_key"`
	PresignedURL string `json:"presigned_url"`
	ContentType  string `json:"content_type"`
}

func (a *adminAPI) listArtifacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	arts, err := a.catalog.Artifacts(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, arts)
}

func (a *adminAPI) createArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.DirectArtifactParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	art, err := a.catalog.CreateArtifact(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, art)
}

func (a *adminAPI) presignArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.PresignParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	grant, err := a.catalog.PresignArtifact(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, artifactGrant{
		ArtifactID:   grant.ID,
		StorageKey:   grant.StorageKey,
		PresignedURL: grant.PresignedURL,
		ContentType:  grant.ContentType,
	})
}

func (a *adminAPI) confirmArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.ConfirmParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	art, err := a.catalog.ConfirmArtifact(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), chi.URLParam(r, "artifactID"), p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, struct {
		Confirmed bool            `json:"confirmed"`
		Artifact  *oasis.Artifact `json:"artifact"`
	}{true, art})
}

func (a *adminAPI) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.catalog.DeleteArtifact(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), chi.URLParam(r, "artifactID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Installers

type installerGrant struct {
	InstallerID  string `json:"installer_id"`
	StorageKey   string `json:"storage_key"`
	PresignedURL string `json:"presigned_url"`
	ContentType  string `json:"content_type"`
}

func (a *adminAPI) listInstallers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	insts, err := a.catalog.Installers(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, insts)
}

func (a *adminAPI) createInstaller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.DirectInstallerParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	inst, err := a.catalog.CreateInstaller(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, inst)
}

func (a *adminAPI) presignInstaller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.PresignParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	grant, err := a.catalog.PresignInstaller(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, installerGrant{
		InstallerID:  grant.ID,
		StorageKey:   grant.StorageKey,
		PresignedURL: grant.PresignedURL,
		ContentType:  grant.ContentType,
	})
}

func (a *adminAPI) confirmInstaller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p catalog.ConfirmParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	inst, err := a.catalog.ConfirmInstaller(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), chi.URLParam(r, "installerID"), p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, struct {
		Confirmed bool             `json:"confirmed"`
		Installer *oasis.Installer `json:"installer"`
	}{true, inst})
}

func (a *adminAPI) deleteInstaller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.catalog.DeleteInstaller(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "releaseID"), chi.URLParam(r, "installerID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Crash triage

func (a *adminAPI) listCrashGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groups, total, err := a.ingest.ListCrashGroups(ctx, datastore.CrashGroupListOpts{
		AppID:  chi.URLParam(r, "appID"),
		Status: oasis.CrashGroupStatus(r.URL.Query().Get("status")),
		Page:   pageFrom(r),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, listResponse[oasis.CrashGroup]{Items: groups, Total: total})
}

func (a *adminAPI) getCrashGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group, err := a.ingest.CrashGroup(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, group)
}

func (a *adminAPI) updateCrashGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p struct {
		Status          *oasis.CrashGroupStatus `json:"status,omitempty"`
		Assignee        *string                 `json:"assignee,omitempty"`
		ResolutionNotes *string                 `json:"resolution_notes,omitempty"`
	}
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	group, err := a.ingest.UpdateCrashGroup(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "groupID"), datastore.CrashGroupUpdate{
		Status:          p.Status,
		Assignee:        p.Assignee,
		ResolutionNotes: p.ResolutionNotes,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, group)
}

func (a *adminAPI) listCrashReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reports, total, err := a.ingest.ListCrashReports(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "groupID"), pageFrom(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, listResponse[oasis.CrashReport]{Items: reports, Total: total})
}

func (a *adminAPI) getCrashReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := a.ingest.CrashReport(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "reportID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, report)
}

func (a *adminAPI) crashStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := a.ingest.CrashStats(ctx, chi.URLParam(r, "appID"), datastore.StatsWindow(r.URL.Query().Get("window")))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, stats)
}

// Feedback

func (a *adminAPI) listFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fb, total, err := a.ingest.ListFeedback(ctx, chi.URLParam(r, "appID"), pageFrom(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, listResponse[oasis.Feedback]{Items: fb, Total: total})
}

func (a *adminAPI) deleteFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.ingest.DeleteFeedback(ctx, chi.URLParam(r, "appID"), chi.URLParam(r, "feedbackID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
