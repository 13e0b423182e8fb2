package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

// fakeStore records calls and serves canned rows. The grouping protocol
// itself lives in the postgres store and is covered by its integration
// tests; here it only needs to look plausible.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	groups   map[string]*oasis.CrashGroup // by id
	byPrint  map[string]string            // fingerprint -> group id
	reports  map[string]*oasis.CrashReport
	feedback map[string]*oasis.Feedback

	lastUpdate      *datastore.CrashGroupUpdate
	lastStatsWindow datastore.StatsWindow
	lastStatsTopN   int
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:   map[string]*oasis.CrashGroup{},
		byPrint:  map[string]string{},
		reports:  map[string]*oasis.CrashReport{},
		feedback: map[string]*oasis.Feedback{},
	}
}

func (f *fakeStore) id(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%03d", prefix, f.seq)
}

func (f *fakeStore) UpsertCrashReport(_ context.Context, r *oasis.CrashReport) (*oasis.CrashGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gid, ok := f.byPrint[r.Fingerprint]
	if !ok {
		gid = f.id("grp")
		f.byPrint[r.Fingerprint] = gid
		f.groups[gid] = &oasis.CrashGroup{
			ID:           gid,
			AppID:        r.AppID,
			Fingerprint:  r.Fingerprint,
			ErrorType:    r.ErrorType,
			ErrorMessage: r.ErrorMessage,
			Status:       oasis.CrashNew,
		}
	}
	g := f.groups[gid]
	g.OccurrenceCount++
	cp := *r
	cp.CrashGroupID = gid
	f.reports[r.ID] = &cp
	r.CrashGroupID = gid
	gcp := *g
	return &gcp, nil
}

func (f *fakeStore) CrashGroupByID(_ context.Context, id string) (*oasis.CrashGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return nil, &oasis.Error{Op: `fake`, Kind: oasis.ErrNotFound, Message: "no group " + id}
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) ListCrashGroups(_ context.Context, opts datastore.CrashGroupListOpts) ([]oasis.CrashGroup, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []oasis.CrashGroup
	for _, g := range f.groups {
		if g.AppID != opts.AppID {
			continue
		}
		if opts.Status != "" && g.Status != opts.Status {
			continue
		}
		out = append(out, *g)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) UpdateCrashGroup(_ context.Context, id string, upd datastore.CrashGroupUpdate, now time.Time) (*oasis.CrashGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return nil, &oasis.Error{Op: `fake`, Kind: oasis.ErrNotFound, Message: "no group " + id}
	}
	f.lastUpdate = &upd
	if upd.Status != nil {
		g.Status = *upd.Status
		if *upd.Status == oasis.CrashResolved {
			g.ResolvedAt = &now
		} else {
			g.ResolvedAt = nil
		}
	}
	if upd.Assignee != nil {
		g.Assignee = upd.Assignee
	}
	if upd.ResolutionNotes != nil {
		g.ResolutionNotes = upd.ResolutionNotes
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) ListCrashReports(_ context.Context, groupID string, _ datastore.Page) ([]oasis.CrashReport, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []oasis.CrashReport
	for _, r := range f.reports {
		if r.CrashGroupID == groupID {
			out = append(out, *r)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) CrashReportByID(_ context.Context, id string) (*oasis.CrashReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, &oasis.Error{Op: `fake`, Kind: oasis.ErrNotFound, Message: "no report " + id}
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) CrashStats(_ context.Context, appID string, window datastore.StatsWindow, topN int) (*datastore.CrashStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastStatsWindow = window
	f.lastStatsTopN = topN
	return &datastore.CrashStats{Window: window}, nil
}

func (f *fakeStore) CreateFeedback(_ context.Context, fb *oasis.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *fb
	f.feedback[fb.ID] = &cp
	return nil
}

func (f *fakeStore) ListFeedback(_ context.Context, appID string, _ datastore.Page) ([]oasis.Feedback, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []oasis.Feedback
	for _, fb := range f.feedback {
		if fb.AppID == appID {
			out = append(out, *fb)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) DeleteFeedback(_ context.Context, id, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.feedback[id]
	if !ok || fb.AppID != appID {
		return &oasis.Error{Op: `fake`, Kind: oasis.ErrNotFound, Message: "no feedback " + id}
	}
	delete(f.feedback, id)
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestSubmitCrash(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	f := newFakeStore()
	s := New(f)

	valid := CrashParams{
		ErrorType:    "TypeError",
		ErrorMessage: "x is undefined",
		StackTrace:   []oasis.StackFrame{frame("init", "", -1)},
		AppVersion:   "1.0.0",
		Platform:     "darwin-aarch64",
	}

	bad := []struct {
		Name string
		Mod  func(*CrashParams)
	}{
		{"NoErrorType", func(p *CrashParams) { p.ErrorType = "" }},
		{"NoErrorMessage", func(p *CrashParams) { p.ErrorMessage = "" }},
		{"NoAppVersion", func(p *CrashParams) { p.AppVersion = "" }},
		{"NoPlatform", func(p *CrashParams) { p.Platform = "" }},
		{"BogusSeverity", func(p *CrashParams) { p.Severity = "catastrophic" }},
	}
	for _, tc := range bad {
		t.Run(tc.Name, func(t *testing.T) {
			p := valid
			tc.Mod(&p)
			if _, _, err := s.SubmitCrash(ctx, "app-1", "pk-1", p); !errors.Is(err, oasis.ErrValidation) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}

	report, group, err := s.SubmitCrash(ctx, "app-1", "pk-1", valid)
	if err != nil {
		t.Fatal(err)
	}
	if report.Severity != oasis.SeverityError {
		t.Errorf("severity default: got %q", report.Severity)
	}
	if want := Fingerprint("TypeError", valid.StackTrace); report.Fingerprint != want {
		t.Errorf("fingerprint: got %q, want %q", report.Fingerprint, want)
	}
	if report.AppID != "app-1" || report.PublicKeyID != "pk-1" {
		t.Errorf("identity fields: %+v", report)
	}
	if group.OccurrenceCount != 1 || group.Status != oasis.CrashNew {
		t.Errorf("fresh group: %+v", group)
	}

	// The same crash folds into the same group.
	again := valid
	again.Severity = "fatal"
	r2, g2, err := s.SubmitCrash(ctx, "app-1", "pk-1", again)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Severity != oasis.SeverityFatal {
		t.Errorf("explicit severity: got %q", r2.Severity)
	}
	if g2.ID != group.ID || g2.OccurrenceCount != 2 {
		t.Errorf("regrouping: first %+v then %+v", group, g2)
	}

	// A different error type opens a new group.
	other := valid
	other.ErrorType = "RangeError"
	_, g3, err := s.SubmitCrash(ctx, "app-1", "pk-1", other)
	if err != nil {
		t.Fatal(err)
	}
	if g3.ID == group.ID {
		t.Error("distinct error type reused the group")
	}

	// Empty optional strings normalize to absent.
	blank := valid
	blank.UserID = ptr("")
	blank.OSVersion = ptr("")
	r4, _, err := s.SubmitCrash(ctx, "app-1", "pk-1", blank)
	if err != nil {
		t.Fatal(err)
	}
	if r4.UserID != nil || r4.OSVersion != nil {
		t.Errorf("blank optionals kept: %+v", r4)
	}
}

func TestCrashGroupScoping(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	f := newFakeStore()
	s := New(f)

	_, group, err := s.SubmitCrash(ctx, "app-1", "pk-1", CrashParams{
		ErrorType:    "TypeError",
		ErrorMessage: "boom",
		AppVersion:   "1.0.0",
		Platform:     "windows-x86_64",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.CrashGroup(ctx, "app-1", group.ID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := s.CrashGroup(ctx, "app-2", group.ID); !errors.Is(err, oasis.ErrNotFound) {
		t.Errorf("cross-app lookup: got %v, want not found", err)
	}
	if _, _, err := s.ListCrashReports(ctx, "app-2", group.ID, datastore.Page{}); !errors.Is(err, oasis.ErrNotFound) {
		t.Errorf("cross-app reports: got %v, want not found", err)
	}

	st := oasis.CrashResolved
	if _, err := s.UpdateCrashGroup(ctx, "app-2", group.ID, datastore.CrashGroupUpdate{Status: &st}); !errors.Is(err, oasis.ErrNotFound) {
		t.Errorf("cross-app update: got %v, want not found", err)
	}
	bogus := oasis.CrashGroupStatus("wontfix")
	if _, err := s.UpdateCrashGroup(ctx, "app-1", group.ID, datastore.CrashGroupUpdate{Status: &bogus}); !errors.Is(err, oasis.ErrValidation) {
		t.Errorf("bad status: got %v, want validation error", err)
	}

	got, err := s.UpdateCrashGroup(ctx, "app-1", group.ID, datastore.CrashGroupUpdate{
		Status:   &st,
		Assignee: ptr("sam"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != oasis.CrashResolved || got.ResolvedAt == nil {
		t.Errorf("resolve: %+v", got)
	}
	if got.Assignee == nil || *got.Assignee != "sam" {
		t.Errorf("assignee: %+v", got.Assignee)
	}
}

func TestCrashStats(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	f := newFakeStore()
	s := New(f)

	if _, err := s.CrashStats(ctx, "app-1", "1y"); !errors.Is(err, oasis.ErrValidation) {
		t.Errorf("bad window: got %v, want validation error", err)
	}

	st, err := s.CrashStats(ctx, "app-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if st.Window != datastore.Window7d || f.lastStatsWindow != datastore.Window7d {
		t.Errorf("default window: got %q", f.lastStatsWindow)
	}
	if f.lastStatsTopN != defaultTopGroups {
		t.Errorf("topN: got %d, want %d", f.lastStatsTopN, defaultTopGroups)
	}

	if _, err := s.CrashStats(ctx, "app-1", datastore.Window90d); err != nil {
		t.Fatal(err)
	}
	if f.lastStatsWindow != datastore.Window90d {
		t.Errorf("window passthrough: got %q", f.lastStatsWindow)
	}
}

func TestFeedback(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	f := newFakeStore()
	s := New(f)

	if _, err := s.SubmitFeedback(ctx, "app-1", "pk-1", FeedbackParams{}); !errors.Is(err, oasis.ErrValidation) {
		t.Errorf("empty message: got %v, want validation error", err)
	}
	for _, rating := range []int{0, 6, -1} {
		if _, err := s.SubmitFeedback(ctx, "app-1", "pk-1", FeedbackParams{
			Message: "hi",
			Rating:  &rating,
		}); !errors.Is(err, oasis.ErrValidation) {
			t.Errorf("rating %d: got %v, want validation error", rating, err)
		}
	}

	fb, err := s.SubmitFeedback(ctx, "app-1", "pk-1", FeedbackParams{
		Message:    "love the new editor",
		Rating:     ptr(5),
		AppVersion: ptr("1.2.0"),
		Platform:   ptr(""),
	})
	if err != nil {
		t.Fatal(err)
	}
	if fb.Platform != nil {
		t.Errorf("blank platform kept: %+v", fb.Platform)
	}
	if fb.Rating == nil || *fb.Rating != 5 {
		t.Errorf("rating: %+v", fb.Rating)
	}

	items, total, err := s.ListFeedback(ctx, "app-1", datastore.Page{})
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("list: %v items=%d total=%d", err, len(items), total)
	}

	if err := s.DeleteFeedback(ctx, "app-2", fb.ID); !errors.Is(err, oasis.ErrNotFound) {
		t.Errorf("cross-app delete: got %v, want not found", err)
	}
	if err := s.DeleteFeedback(ctx, "app-1", fb.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFeedback(ctx, "app-1", fb.ID); !errors.Is(err, oasis.ErrNotFound) {
		t.Errorf("double delete: got %v, want not found", err)
	}
}
