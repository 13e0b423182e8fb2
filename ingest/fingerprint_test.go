package ingest

import (
	"testing"

	"github.com/oasishq/oasis"
)

func frame(fn, file string, line int) oasis.StackFrame {
	var f oasis.StackFrame
	if fn != "" {
		f.Function = &fn
	}
	if file != "" {
		f.File = &file
	}
	if line >= 0 {
		f.Line = &line
	}
	return f
}

func TestFingerprint(t *testing.T) {
	// Hashes are sha256 of the pipe-joined part string, truncated to 32
	// hex characters. Grouping stability depends on these staying fixed.
	tests := []struct {
		Name      string
		ErrorType string
		Frames    []oasis.StackFrame
		Want      string
	}{
		{
			Name:      "FunctionFrame", // "TypeError|init"
			ErrorType: "TypeError",
			Frames:    []oasis.StackFrame{frame("init", "", -1)},
			Want:      "984f058d68de28114e0ed6227970073a",
		},
		{
			Name:      "EmptyTrace", // "TypeError"
			ErrorType: "TypeError",
			Frames:    nil,
			Want:      "7af339841d330e8a316ba6eb8b2928ad",
		},
		{
			Name:      "FileLineFrame", // "ReferenceError|app.js:42"
			ErrorType: "ReferenceError",
			Frames:    []oasis.StackFrame{frame("", "app.js", 42)},
			Want:      "64dce946a5933eb09ed806e84c777382",
		},
		{
			Name:      "NoiseDropped", // "TypeError|main|render|unknown"
			ErrorType: "TypeError",
			Frames: []oasis.StackFrame{
				frame("main", "src/main.ts", 10),
				frame("chunk", "node_modules/react/index.js", 5),
				frame("invoke", "tauri://localhost/core", 1),
				frame("emit", "@tauri-apps/api/event.ts", 7),
				frame("req", "node:internal/http", 3),
				frame("bundle", "webpack/runtime/chunk.js", 9),
				frame("hmr", "vite/client.ts", 2),
				frame("render", "", -1),
				{}, // nothing identifying
			},
			Want: "322e5f71804c5475f94035e11a8babbd",
		},
	}
	for _, tc := range tests {
		t.Run(tc.Name, func(t *testing.T) {
			got := Fingerprint(tc.ErrorType, tc.Frames)
			if got != tc.Want {
				t.Errorf("got %s, want %s", got, tc.Want)
			}
			if len(got) != 32 {
				t.Errorf("fingerprint length %d, want 32", len(got))
			}
		})
	}
}

func TestFingerprintProperties(t *testing.T) {
	t.Run("FiveFrameCap", func(t *testing.T) {
		five := []oasis.StackFrame{
			frame("a", "", -1), frame("b", "", -1), frame("c", "", -1),
			frame("d", "", -1), frame("e", "", -1),
		}
		more := append(append([]oasis.StackFrame{}, five...), frame("f", "", -1), frame("g", "", -1))
		if Fingerprint("Err", five) != Fingerprint("Err", more) {
			t.Error("frames past the fifth changed the fingerprint")
		}
	})

	t.Run("NativeDropped", func(t *testing.T) {
		plain := []oasis.StackFrame{frame("top", "", -1)}
		native := frame("glue", "runtime.rs", 1)
		native.IsNative = true
		if Fingerprint("Err", plain) != Fingerprint("Err", append([]oasis.StackFrame{native}, plain...)) {
			t.Error("native frame changed the fingerprint")
		}
	})

	t.Run("FunctionShadowsLocation", func(t *testing.T) {
		// When the function name is present, file and line churn (new
		// bundles, shifted lines) must not split the group.
		a := []oasis.StackFrame{frame("handleClick", "dist/app-3f2a.js", 100)}
		b := []oasis.StackFrame{frame("handleClick", "dist/app-9c1d.js", 2045)}
		if Fingerprint("Err", a) != Fingerprint("Err", b) {
			t.Error("location churn under a named function split the group")
		}
	})

	t.Run("ErrorTypeDiscriminates", func(t *testing.T) {
		fr := []oasis.StackFrame{frame("init", "", -1)}
		if Fingerprint("TypeError", fr) == Fingerprint("RangeError", fr) {
			t.Error("different error types grouped together")
		}
	})
}
