package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
)

// sdkHarness is a harness with one app and a minted SDK key for it.
type sdkHarness struct {
	*harness
	app   *oasis.App
	token string
}

func newSDKHarness(t *testing.T) *sdkHarness {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	h := newHarness(t)
	app := h.store.seedApp("note")
	token, _, err := h.auth.CreatePublicKey(ctx, app.ID, "desktop")
	if err != nil {
		t.Fatal(err)
	}
	return &sdkHarness{harness: h, app: app, token: token}
}

// post sends an SDK request. Pass gzipped to compress the body and set the
// matching Content-Encoding header.
func (h *sdkHarness) post(t *testing.T, path, token string, body interface{}, gzipped bool) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	if gzipped {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(buf); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		buf = zbuf.Bytes()
	}
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if token != "" {
		req.Header.Set("X-API-Key", token)
	}
	res, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func crashBody() map[string]interface{} {
	return map[string]interface{}{
		"error_type":    "TypeError",
		"error_message": "x is undefined",
		"stack_trace": []map[string]interface{}{
			{"function": "save", "file": "/app/src/main.ts", "line": 42},
		},
		"app_version": "1.2.0",
		"platform":    "darwin-aarch64",
	}
}

func TestSDKCrashes(t *testing.T) {
	h := newSDKHarness(t)

	type accepted struct {
		ID           string `json:"id"`
		CrashGroupID string `json:"crash_group_id"`
		Fingerprint  string `json:"fingerprint"`
	}

	res := h.post(t, "/sdk/note/crashes", h.token, crashBody(), false)
	wantStatus(t, res, http.StatusCreated)
	first := decodeAs[accepted](t, res)
	if first.ID == "" || first.CrashGroupID == "" {
		t.Fatalf("incomplete response: %+v", first)
	}
	if len(first.Fingerprint) != 32 {
		t.Errorf("fingerprint %q is not 32 hex chars", first.Fingerprint)
	}

	t.Run("SameGroup", func(t *testing.T) {
		res := h.post(t, "/sdk/note/crashes", h.token, crashBody(), false)
		wantStatus(t, res, http.StatusCreated)
		second := decodeAs[accepted](t, res)
		if second.CrashGroupID != first.CrashGroupID {
			t.Errorf("got group %q, want %q", second.CrashGroupID, first.CrashGroupID)
		}
		if second.ID == first.ID {
			t.Error("both submissions share a report id")
		}
	})
	t.Run("Gzip", func(t *testing.T) {
		res := h.post(t, "/sdk/note/crashes", h.token, crashBody(), true)
		wantStatus(t, res, http.StatusCreated)
		got := decodeAs[accepted](t, res)
		if got.CrashGroupID != first.CrashGroupID {
			t.Errorf("gzip submission landed in group %q, want %q", got.CrashGroupID, first.CrashGroupID)
		}
	})
	t.Run("MissingKey", func(t *testing.T) {
		res := h.post(t, "/sdk/note/crashes", "", crashBody(), false)
		wantStatus(t, res, http.StatusUnauthorized)
	})
	t.Run("UnknownKey", func(t *testing.T) {
		res := h.post(t, "/sdk/note/crashes", "pk_note_00000000deadbeef", crashBody(), false)
		wantStatus(t, res, http.StatusUnauthorized)
	})
	t.Run("ForeignSlug", func(t *testing.T) {
		h.store.seedApp("other")
		res := h.post(t, "/sdk/other/crashes", h.token, crashBody(), false)
		wantStatus(t, res, http.StatusForbidden)
	})
	t.Run("UnknownSlug", func(t *testing.T) {
		res := h.post(t, "/sdk/ghost/crashes", h.token, crashBody(), false)
		wantStatus(t, res, http.StatusNotFound)
	})
	t.Run("BadSeverity", func(t *testing.T) {
		body := crashBody()
		body["severity"] = "catastrophic"
		res := h.post(t, "/sdk/note/crashes", h.token, body, false)
		wantStatus(t, res, http.StatusBadRequest)
	})
	t.Run("MalformedGzip", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/sdk/note/crashes", strings.NewReader("not gzip"))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Encoding", "gzip")
		req.Header.Set("X-API-Key", h.token)
		res, err := h.srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		wantStatus(t, res, http.StatusBadRequest)
	})
}

func TestSDKFeedback(t *testing.T) {
	h := newSDKHarness(t)

	t.Run("Submit", func(t *testing.T) {
		res := h.post(t, "/sdk/note/feedback", h.token, map[string]interface{}{
			"message": "love it",
			"rating":  5,
		}, false)
		wantStatus(t, res, http.StatusCreated)
		fb := decodeAs[oasis.Feedback](t, res)
		if fb.AppID != h.app.ID {
			t.Errorf("feedback bound to app %q, want %q", fb.AppID, h.app.ID)
		}
		if fb.Rating == nil || *fb.Rating != 5 {
			t.Errorf("got rating %v, want 5", fb.Rating)
		}
	})
	t.Run("MissingMessage", func(t *testing.T) {
		res := h.post(t, "/sdk/note/feedback", h.token, map[string]interface{}{"rating": 3}, false)
		wantStatus(t, res, http.StatusBadRequest)
	})
	t.Run("BadRating", func(t *testing.T) {
		res := h.post(t, "/sdk/note/feedback", h.token, map[string]interface{}{
			"message": "meh",
			"rating":  9,
		}, false)
		wantStatus(t, res, http.StatusBadRequest)
	})
	t.Run("OversizeBody", func(t *testing.T) {
		res := h.post(t, "/sdk/note/feedback", h.token, map[string]interface{}{
			"message": strings.Repeat("a", (1<<20)+1024),
		}, false)
		wantStatus(t, res, http.StatusBadRequest)
		e := decodeAs[errBody](t, res)
		if e.Code != "body_too_large" {
			t.Errorf("got code %q, want body_too_large", e.Code)
		}
	})
}
