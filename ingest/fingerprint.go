package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/oasishq/oasis"
)

// maxFingerprintFrames is how many surviving frames feed the fingerprint.
// Deep stacks differ in their tails across minor versions; the top of the
// app-owned stack is what identifies a crash.
const maxFingerprintFrames = 5

// noiseSubstrings mark frames from bundler and runtime glue. Their paths
// churn across builds without the crash itself changing, so they never feed
// the fingerprint.
var noiseSubstrings = []string{
	"node_modules",
	"tauri:",
	"@tauri-apps",
	"internal/",
	"webpack/",
	"vite/",
}

// Fingerprint derives the stable grouping key for a crash: the error type
// and the first five app-owned frames, pipe-joined, SHA-256 hashed, and
// truncated to 32 hex characters.
//
// Two submissions fingerprint identically exactly when they agree on the
// error type and on the identifying part of each surviving frame, so the
// key is stable across platforms and embedders of the same app code.
func Fingerprint(errorType string, frames []oasis.StackFrame) string {
	parts := make([]string, 0, maxFingerprintFrames+1)
	parts = append(parts, errorType)
	for i := range frames {
		if len(parts) > maxFingerprintFrames {
			break
		}
		f := &frames[i]
		if f.IsNative || noisyFrame(f) {
			continue
		}
		parts = append(parts, framePart(f))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

func noisyFrame(f *oasis.StackFrame) bool {
	if f.File == nil {
		return false
	}
	if strings.HasPrefix(*f.File, "node:") {
		return true
	}
	for _, sub := range noiseSubstrings {
		if strings.Contains(*f.File, sub) {
			return true
		}
	}
	return false
}

// framePart picks the identifying token of one frame: the function name,
// else file:line, else the file alone, else a literal placeholder.
func framePart(f *oasis.StackFrame) string {
	switch {
	case f.Function != nil && *f.Function != "":
		return *f.Function
	case f.File != nil && *f.File != "" && f.Line != nil:
		return *f.File + ":" + strconv.Itoa(*f.Line)
	case f.File != nil && *f.File != "":
		return *f.File
	}
	return "unknown"
}
