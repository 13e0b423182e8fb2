package oasis

import (
	"strings"
	"testing"
)

func TestValidateFilename(t *testing.T) {
	tt := []struct {
		In string
		OK bool
	}{
		{In: "note_1.0.0.tar.gz", OK: true},
		{In: "Note-Setup-1.0.0.exe", OK: true},
		{In: "app.AppImage", OK: true},
		{In: "a", OK: true},
		{In: "", OK: false},
		{In: ".", OK: false},
		{In: "..", OK: false},
		{In: "../etc/passwd", OK: false},
		{In: "dir/file", OK: false},
		{In: "file name", OK: false},
		{In: "file\x00", OK: false},
		{In: strings.Repeat("a", 256), OK: false},
	}
	for _, tc := range tt {
		t.Run(tc.In, func(t *testing.T) {
			err := ValidateFilename(tc.In)
			if tc.OK && err != nil {
				t.Errorf("%q: %v", tc.In, err)
			}
			if !tc.OK && err == nil {
				t.Errorf("%q: expected error", tc.In)
			}
		})
	}
}
