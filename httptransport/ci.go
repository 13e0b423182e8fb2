package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/auth"
	"github.com/oasishq/oasis/catalog"
)

// ciAPI is the one-shot release import used by build pipelines. Unlike the
// admin surface it routes by slug, because pipelines know their app by name
// rather than by id.
type ciAPI struct {
	auth    *auth.Service
	catalog *catalog.Service
}

// Register mounts the CI routes.
func (c *ciAPI) Register(r chi.Router) {
	r.Use(bearerAuth(c.auth))
	r.Use(limitBody(maxBodyBytes))
	r.Post("/apps/{slug}/releases", c.importRelease)
}

func (c *ciAPI) importRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// Resolve the slug before the scope check so a CI key learns "wrong
	// app" rather than a bogus not-found for apps that do exist.
	app, err := c.catalog.AppBySlug(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if key := bearerFrom(ctx); !key.AllowsApp(app.ID) {
		writeError(ctx, w, &oasis.Error{
			Kind:    oasis.ErrForbidden,
			Message: "key is not authorized for this app",
		})
		return
	}
	var p catalog.ImportParams
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, err)
		return
	}
	rel, err := c.catalog.ImportRelease(ctx, app.ID, p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, rel)
}
