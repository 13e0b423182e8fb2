package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
	"github.com/oasishq/oasis/test/integration"
)

func testStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()
	pool := integration.NewDB(ctx, t)
	store, err := InitPostgresStore(ctx, pool, true)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return store
}

func testApp(ctx context.Context, t *testing.T, store *Store, slug string) *oasis.App {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	app := &oasis.App{
		ID:        oasis.NewID(),
		Slug:      slug,
		Name:      "Test App",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateApp(ctx, app); err != nil {
		t.Fatalf("%v", err)
	}
	return app
}

func testRelease(ctx context.Context, t *testing.T, store *Store, appID, version string) *oasis.Release {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	r := &oasis.Release{
		ID:        oasis.NewID(),
		AppID:     appID,
		Version:   version,
		Status:    oasis.ReleaseDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateRelease(ctx, r); err != nil {
		t.Fatalf("%v", err)
	}
	return r
}

func TestAppStore(t *testing.T) {
	integration.NeedDB(t)
	ctx := zlog.Test(context.Background(), t)
	store := testStore(ctx, t)

	app := testApp(ctx, t, store, "acme-notes")

	got, err := store.AppByID(ctx, app.ID)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if !cmp.Equal(app, got) {
		t.Error(cmp.Diff(app, got))
	}
	if _, err := store.AppBySlug(ctx, "acme-notes"); err != nil {
		t.Errorf("%v", err)
	}

	// Slugs are unique.
	dup := &oasis.App{ID: oasis.NewID(), Slug: "acme-notes", Name: "Other", CreatedAt: app.CreatedAt, UpdatedAt: app.UpdatedAt}
	err = store.CreateApp(ctx, dup)
	if !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	_, err = store.AppByID(ctx, oasis.NewID())
	if !errors.Is(err, oasis.ErrNotFound) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrNotFound)
	}

	testApp(ctx, t, store, "beta-tool")
	tl := []struct {
		search string
		want   int
	}{
		{search: "", want: 2},
		{search: "acme", want: 1},
		{search: "zzz", want: 0},
	}
	for _, tc := range tl {
		page, total, err := store.ListApps(ctx, datastore.AppListOpts{Search: tc.search})
		if err != nil {
			t.Fatalf("%v", err)
		}
		if len(page) != tc.want || total != int64(tc.want) {
			t.Errorf("search %q: got %d rows, total %d; want %d", tc.search, len(page), total, tc.want)
		}
	}

	desc := "now with sync"
	app.Description = &desc
	app.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if err := store.UpdateApp(ctx, app); err != nil {
		t.Fatalf("%v", err)
	}
	got, err = store.AppByID(ctx, app.ID)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if got.Description == nil || *got.Description != desc {
		t.Errorf("description did not update: %+v", got)
	}

	if _, err := store.DeleteApp(ctx, app.ID); err != nil {
		t.Fatalf("%v", err)
	}
	if _, err := store.AppByID(ctx, app.ID); !errors.Is(err, oasis.ErrNotFound) {
		t.Errorf("app still present after delete: %v", err)
	}
}

func TestReleaseLifecycle(t *testing.T) {
	integration.NeedDB(t)
	ctx := zlog.Test(context.Background(), t)
	store := testStore(ctx, t)
	app := testApp(ctx, t, store, "acme-notes")

	rel := testRelease(ctx, t, store, app.ID, "1.0.0")

	// Same version twice is a conflict.
	err := store.CreateRelease(ctx, &oasis.Release{
		ID: oasis.NewID(), AppID: app.ID, Version: "1.0.0",
		Status: oasis.ReleaseDraft, CreatedAt: rel.CreatedAt, UpdatedAt: rel.UpdatedAt,
	})
	if !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	pub, err := store.PublishRelease(ctx, rel.ID, now)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if pub.Status != oasis.ReleasePublished || pub.PubDate == nil || !pub.PubDate.Equal(now) {
		t.Errorf("bad publish result: %+v", pub)
	}

	// Publishing twice is a conflict, and pub_date must not move.
	if _, err := store.PublishRelease(ctx, rel.ID, now.Add(time.Hour)); !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	// Published releases cannot be deleted.
	if _, err := store.DeleteRelease(ctx, rel.ID); !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	// Deleting the app is blocked while something is published.
	if _, err := store.DeleteApp(ctx, app.ID); !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	arc, err := store.ArchiveRelease(ctx, rel.ID)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if arc.Status != oasis.ReleaseArchived || arc.PubDate == nil {
		t.Errorf("bad archive result: %+v", arc)
	}
	if _, err := store.ArchiveRelease(ctx, rel.ID); !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	// Archived is terminal, so deletion still fails.
	if _, err := store.DeleteRelease(ctx, rel.ID); !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	draft := testRelease(ctx, t, store, app.ID, "1.1.0")
	if _, err := store.DeleteRelease(ctx, draft.ID); err != nil {
		t.Fatalf("%v", err)
	}

	rl, total, err := store.ListReleases(ctx, datastore.ReleaseListOpts{AppID: app.ID, Status: oasis.ReleaseArchived})
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(rl) != 1 || total != 1 {
		t.Errorf("got %d archived releases, want 1", len(rl))
	}
}

func TestArtifactConfirm(t *testing.T) {
	integration.NeedDB(t)
	ctx := zlog.Test(context.Background(), t)
	store := testStore(ctx, t)
	app := testApp(ctx, t, store, "acme-notes")
	rel := testRelease(ctx, t, store, app.ID, "1.0.0")

	key := "releases/" + app.ID + "/" + rel.ID + "/darwin-aarch64.tar.gz"
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &oasis.Artifact{
		ID:         oasis.NewID(),
		ReleaseID:  rel.ID,
		Platform:   oasis.PlatformDarwinARM64,
		StorageKey: &key,
		CreatedAt:  now,
	}
	if err := store.CreateArtifact(ctx, a); err != nil {
		t.Fatalf("%v", err)
	}
	got, err := store.ArtifactByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if !got.Pending() {
		t.Errorf("expected pending artifact: %+v", got)
	}

	// One artifact per (release, platform).
	err = store.CreateArtifact(ctx, &oasis.Artifact{
		ID: oasis.NewID(), ReleaseID: rel.ID, Platform: oasis.PlatformDarwinARM64,
		StorageKey: &key, CreatedAt: now,
	})
	if !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	sig := "dW50cnVzdGVkIGNvbW1lbnQ6IHNptZQo="
	ck, err := oasis.ParseChecksum("sha256:" + "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if err != nil {
		t.Fatalf("%v", err)
	}
	conf, err := store.ConfirmArtifact(ctx, a.ID, datastore.ConfirmAttrs{
		DownloadURL: "https://cdn.example.com/" + key,
		FileSize:    1024,
		Signature:   &sig,
		Checksum:    &ck,
	})
	if err != nil {
		t.Fatalf("%v", err)
	}
	if !conf.Confirmed() || conf.FileSize == nil || *conf.FileSize != 1024 || conf.Checksum == nil {
		t.Errorf("bad confirm result: %+v", conf)
	}

	// Double confirmation is a conflict.
	_, err = store.ConfirmArtifact(ctx, a.ID, datastore.ConfirmAttrs{DownloadURL: "https://x", FileSize: 1})
	if !errors.Is(err, oasis.ErrConflict) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrConflict)
	}

	// Deleting the draft release reports the orphaned object key.
	keys, err := store.DeleteRelease(ctx, rel.ID)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("got keys %v, want [%s]", keys, key)
	}
}

func TestCrashIngest(t *testing.T) {
	integration.NeedDB(t)
	ctx := zlog.Test(context.Background(), t)
	store := testStore(ctx, t)
	app := testApp(ctx, t, store, "acme-notes")

	now := time.Now().UTC().Truncate(time.Microsecond)
	pk := &oasis.PublicAPIKey{
		ID:        oasis.NewID(),
		AppID:     app.ID,
		Name:      "prod",
		KeyHash:   "deadbeef",
		KeyPrefix: "pk_acme-notes_0123456789a",
		CreatedAt: now,
	}
	if err := store.CreatePublicKey(ctx, pk); err != nil {
		t.Fatalf("%v", err)
	}

	user1, user2 := "u1", "u2"
	report := func(user *string, version, platform string) *oasis.CrashReport {
		fn := "init"
		return &oasis.CrashReport{
			ID:           oasis.NewID(),
			AppID:        app.ID,
			PublicKeyID:  pk.ID,
			ErrorType:    "TypeError",
			ErrorMessage: "x is not a function",
			StackTrace:   []oasis.StackFrame{{Function: &fn}},
			AppVersion:   version,
			Platform:     platform,
			Fingerprint:  "8e2a7e0f6c3b1a4d5e6f708192a3b4c5",
			Severity:     oasis.SeverityError,
			UserID:       user,
			CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		}
	}

	g1, err := store.UpsertCrashReport(ctx, report(&user1, "1.0.0", "darwin-aarch64"))
	if err != nil {
		t.Fatalf("%v", err)
	}
	if g1.OccurrenceCount != 1 || g1.AffectedUsersCount != 1 || g1.Status != oasis.CrashNew {
		t.Errorf("bad first ingest: %+v", g1)
	}

	// Same user again: occurrences move, affected users do not.
	g2, err := store.UpsertCrashReport(ctx, report(&user1, "1.0.0", "darwin-aarch64"))
	if err != nil {
		t.Fatalf("%v", err)
	}
	if g2.ID != g1.ID || g2.OccurrenceCount != 2 || g2.AffectedUsersCount != 1 {
		t.Errorf("bad second ingest: %+v", g2)
	}

	// New user and new version: both aggregates move, sets grow.
	g3, err := store.UpsertCrashReport(ctx, report(&user2, "1.1.0", "windows-x86_64"))
	if err != nil {
		t.Fatalf("%v", err)
	}
	if g3.OccurrenceCount != 3 || g3.AffectedUsersCount != 2 {
		t.Errorf("bad third ingest: %+v", g3)
	}
	wantVersions := []string{"1.0.0", "1.1.0"}
	if !cmp.Equal(g3.AffectedVersions, wantVersions) {
		t.Error(cmp.Diff(wantVersions, g3.AffectedVersions))
	}
	wantPlatforms := []string{"darwin-aarch64", "windows-x86_64"}
	if !cmp.Equal(g3.AffectedPlatforms, wantPlatforms) {
		t.Error(cmp.Diff(wantPlatforms, g3.AffectedPlatforms))
	}

	// Resolving and then ingesting again re-opens the group.
	status := oasis.CrashResolved
	upd, err := store.UpdateCrashGroup(ctx, g1.ID, datastore.CrashGroupUpdate{Status: &status}, time.Now().UTC())
	if err != nil {
		t.Fatalf("%v", err)
	}
	if upd.Status != oasis.CrashResolved || upd.ResolvedAt == nil {
		t.Errorf("bad resolve: %+v", upd)
	}
	g4, err := store.UpsertCrashReport(ctx, report(&user1, "1.1.0", "darwin-aarch64"))
	if err != nil {
		t.Fatalf("%v", err)
	}
	if g4.Status != oasis.CrashNew || g4.ResolvedAt != nil {
		t.Errorf("group did not re-open: %+v", g4)
	}

	reports, total, err := store.ListCrashReports(ctx, g1.ID, datastore.Page{})
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(reports) != 4 || total != 4 {
		t.Errorf("got %d reports, total %d; want 4", len(reports), total)
	}
	if reports[0].StackTrace == nil || reports[0].StackTrace[0].Function == nil {
		t.Errorf("stack trace did not roundtrip: %+v", reports[0])
	}

	stats, err := store.CrashStats(ctx, app.ID, datastore.Window24h, 5)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if stats.TotalReports != 4 || stats.TotalGroups != 1 || len(stats.TopGroups) != 1 {
		t.Errorf("bad stats: %+v", stats)
	}
	if len(stats.ByDay) != 1 || stats.ByDay[0].Count != 4 {
		t.Errorf("bad day histogram: %+v", stats.ByDay)
	}
}

func TestLatestVersionProjection(t *testing.T) {
	integration.NeedDB(t)
	ctx := zlog.Test(context.Background(), t)
	store := testStore(ctx, t)
	app := testApp(ctx, t, store, "acme-notes")

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i, v := range []string{"1.0.0", "1.2.0", "1.10.0-beta.1"} {
		rel := testRelease(ctx, t, store, app.ID, v)
		if _, err := store.PublishRelease(ctx, rel.ID, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("%v", err)
		}
	}
	// An unpublished draft never wins.
	testRelease(ctx, t, store, app.ID, "9.9.9")

	page, _, err := store.ListApps(ctx, datastore.AppListOpts{})
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(page) != 1 {
		t.Fatalf("got %d apps, want 1", len(page))
	}
	if page[0].ReleaseCount != 4 {
		t.Errorf("got release count %d, want 4", page[0].ReleaseCount)
	}
	if page[0].LatestVersion == nil || *page[0].LatestVersion != "1.10.0-beta.1" {
		t.Errorf("got latest %v, want 1.10.0-beta.1", page[0].LatestVersion)
	}
}
