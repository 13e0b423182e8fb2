// Package updates resolves update checks and installer downloads against
// the published catalog.
//
// Resolution is read-only and unauthenticated; it must stay cheap and must
// never leak draft or archived releases. "No update" is a normal outcome,
// reported as a nil manifest rather than an error.
package updates

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

var checkCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "oasis",
	Subsystem: "updates",
	Name:      "checks_total",
	Help:      "Update checks served, by outcome.",
}, []string{"outcome"})

// recordTimeout bounds the asynchronous telemetry insert.
const recordTimeout = 5 * time.Second

// Store is the slice of the datastore the resolver uses.
type Store interface {
	AppBySlug(ctx context.Context, slug string) (*oasis.App, error)
	PublishedReleases(ctx context.Context, appID string) ([]oasis.Release, error)
	ReleaseByVersion(ctx context.Context, appID, version string) (*oasis.Release, error)
	ArtifactByPlatform(ctx context.Context, releaseID string, p oasis.Platform) (*oasis.Artifact, error)
	InstallerByPlatform(ctx context.Context, releaseID string, p oasis.Platform) (*oasis.Installer, error)
	datastore.EventStore
}

// Service answers updater and download requests.
type Service struct {
	store Store
}

// New returns a Service over the given store.
func New(store Store) *Service {
	return &Service{store: store}
}

// Manifest is the updater response body, in the shape the Tauri updater
// expects. PubDate marshals as RFC 3339.
type Manifest struct {
	Version   string     `json:"version"`
	URL       string     `json:"url"`
	Notes     string     `json:"notes,omitempty"`
	PubDate   *time.Time `json:"pub_date,omitempty"`
	Signature string     `json:"signature,omitempty"`
}

// Download is a resolved installer, either redirected to or rendered as a
// JSON descriptor.
type Download struct {
	ID           string          `json:"id"`
	Version      string          `json:"version"`
	Platform     oasis.Platform  `json:"platform"`
	URL          string          `json:"download_url"`
	Filename     string          `json:"filename"`
	DisplayName  *string         `json:"display_name,omitempty"`
	FileSize     *int64          `json:"file_size,omitempty"`
	Checksum     *oasis.Checksum `json:"checksum,omitempty"`
	ReleaseNotes *string         `json:"release_notes,omitempty"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
}

// Check resolves one update poll. A nil manifest with a nil error means the
// client is up to date, or that nothing serviceable exists for its platform.
func (s *Service) Check(ctx context.Context, slug, target, current string) (m *Manifest, err error) {
	const op = `updates/Service.Check`
	defer func() {
		switch {
		case err != nil:
			checkCounter.WithLabelValues("error").Inc()
		case m == nil:
			checkCounter.WithLabelValues("current").Inc()
		default:
			checkCounter.WithLabelValues("update").Inc()
		}
	}()
	app, err := s.store.AppBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	platform, err := oasis.NormalizeTarget(target)
	if err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	if _, err := oasis.ParseVersion(current); err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	rels, err := s.store.PublishedReleases(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	winner := newestAbove(rels, current)
	if winner == nil {
		return nil, nil
	}
	art, err := s.store.ArtifactByPlatform(ctx, winner.ID, platform)
	switch {
	case err == nil:
	case errors.Is(err, oasis.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
	if art.DownloadURL == nil {
		// Reserved but never confirmed.
		return nil, nil
	}
	if app.PublicKey != nil && art.Signature == nil {
		// A signed-updates app never downgrades to serving unsigned
		// payloads.
		zlog.Info(ctx).
			Str("app", app.Slug).
			Str("version", winner.Version).
			Str("platform", string(platform)).
			Msg("refusing unsigned artifact for signed app")
		return nil, nil
	}
	m = &Manifest{
		Version: winner.Version,
		URL:     *art.DownloadURL,
		PubDate: winner.PubDate,
	}
	if winner.Notes != nil {
		m.Notes = *winner.Notes
	}
	if art.Signature != nil {
		m.Signature = *art.Signature
	}
	s.record(&oasis.DownloadEvent{
		Ref:       uuid.New(),
		Kind:      oasis.EventUpdate,
		AppID:     app.ID,
		SubjectID: art.ID,
		Platform:  platform,
		Version:   winner.Version,
		At:        time.Now().UTC(),
	})
	return m, nil
}

// ResolveInstaller resolves an end-user download. version selects a specific
// published release; empty means the latest one. The platform walks its
// fallback chain until a confirmed installer is found.
func (s *Service) ResolveInstaller(ctx context.Context, slug, target, version string) (*Download, error) {
	const op = `updates/Service.ResolveInstaller`
	app, err := s.store.AppBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	platform, err := oasis.NormalizeTarget(target)
	if err != nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
	}
	rel, err := s.downloadableRelease(ctx, op, app.ID, version)
	if err != nil {
		return nil, err
	}
	var inst *oasis.Installer
	for _, candidate := range oasis.InstallerFallbacks(platform) {
		got, err := s.store.InstallerByPlatform(ctx, rel.ID, candidate)
		switch {
		case err == nil:
		case errors.Is(err, oasis.ErrNotFound):
			continue
		default:
			return nil, err
		}
		if got.DownloadURL == nil {
			continue
		}
		inst = got
		break
	}
	if inst == nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: "no installer for " + string(platform)}
	}
	s.record(&oasis.DownloadEvent{
		Ref:       uuid.New(),
		Kind:      oasis.EventInstaller,
		AppID:     app.ID,
		SubjectID: inst.ID,
		Platform:  inst.Platform,
		Version:   rel.Version,
		At:        time.Now().UTC(),
	})
	return &Download{
		ID:           inst.ID,
		Version:      rel.Version,
		Platform:     inst.Platform,
		URL:          *inst.DownloadURL,
		Filename:     inst.Filename,
		DisplayName:  inst.DisplayName,
		FileSize:     inst.FileSize,
		Checksum:     inst.Checksum,
		ReleaseNotes: rel.Notes,
		PublishedAt:  rel.PubDate,
	}, nil
}

// downloadableRelease picks the release a download resolves against. Only
// published releases are downloadable; naming a draft or archived version
// looks identical to naming a missing one.
func (s *Service) downloadableRelease(ctx context.Context, op, appID, version string) (*oasis.Release, error) {
	if version != "" {
		if _, err := oasis.ParseVersion(version); err != nil {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrValidation, Message: err.Error()}
		}
		rel, err := s.store.ReleaseByVersion(ctx, appID, version)
		if err != nil {
			return nil, err
		}
		if rel.Status != oasis.ReleasePublished {
			return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: "no published release " + version}
		}
		return rel, nil
	}
	rels, err := s.store.PublishedReleases(ctx, appID)
	if err != nil {
		return nil, err
	}
	rel := newest(rels)
	if rel == nil {
		return nil, &oasis.Error{Op: op, Kind: oasis.ErrNotFound, Message: "nothing published yet"}
	}
	return rel, nil
}

// newestAbove returns the best published release strictly newer than
// current, or nil. Versions that fail to parse are skipped; creation
// validates them, so that only guards rows predating stricter validation.
func newestAbove(rels []oasis.Release, current string) *oasis.Release {
	var winner *oasis.Release
	for i := range rels {
		r := &rels[i]
		if cmp, err := oasis.CompareVersions(r.Version, current); err != nil || cmp <= 0 {
			continue
		}
		if beats(r, winner) {
			winner = r
		}
	}
	return winner
}

// newest returns the best published release, or nil.
func newest(rels []oasis.Release) *oasis.Release {
	var winner *oasis.Release
	for i := range rels {
		r := &rels[i]
		if _, err := oasis.ParseVersion(r.Version); err != nil {
			continue
		}
		if beats(r, winner) {
			winner = r
		}
	}
	return winner
}

// beats reports whether r outranks the incumbent: highest semver, then
// latest pub_date, then highest id. The id tiebreak makes resolution
// deterministic even for rows published in the same instant.
func beats(r, incumbent *oasis.Release) bool {
	if incumbent == nil {
		return true
	}
	cmp, err := oasis.CompareVersions(r.Version, incumbent.Version)
	if err != nil {
		return false
	}
	switch {
	case cmp > 0:
		return true
	case cmp < 0:
		return false
	}
	switch rp, ip := r.PubDate, incumbent.PubDate; {
	case rp == nil:
		return false
	case ip == nil:
		return true
	case !rp.Equal(*ip):
		return rp.After(*ip)
	}
	return r.ID > incumbent.ID
}

// record inserts telemetry off the request path. The request context is
// deliberately not used; a canceled poll still counts.
func (s *Service) record(ev *oasis.DownloadEvent) {
	go func() {
		ctx, done := context.WithTimeout(context.Background(), recordTimeout)
		defer done()
		if err := s.store.RecordDownloadEvent(ctx, ev); err != nil {
			zlog.Debug(ctx).
				Err(err).
				Str("app", ev.AppID).
				Str("kind", string(ev.Kind)).
				Msg("failed to record download event")
		}
	}()
}
