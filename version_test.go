package oasis

import (
	"testing"
)

func TestParseVersion(t *testing.T) {
	tt := []struct {
		In string
		OK bool
	}{
		{In: "1.0.0", OK: true},
		{In: "0.0.0", OK: true},
		{In: "2.10.3", OK: true},
		{In: "1.0.0-beta.2", OK: true},
		{In: "1.0.0+build.5", OK: true},
		{In: "1.0.0-rc.1+build.5", OK: true},
		{In: "v1.0.0", OK: false},
		{In: "1.0", OK: false},
		{In: "1", OK: false},
		{In: "1.0.0.0", OK: false},
		{In: "latest", OK: false},
		{In: "", OK: false},
	}
	for _, tc := range tt {
		t.Run(tc.In, func(t *testing.T) {
			v, err := ParseVersion(tc.In)
			if tc.OK && err != nil {
				t.Fatalf("%v", err)
			}
			if !tc.OK {
				if err == nil {
					t.Fatalf("got: %v, want error", v)
				}
				t.Log(err)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tt := []struct {
		A, B string
		Want int
	}{
		// Pre-releases order below the same core.
		{A: "1.0.0-beta.1", B: "1.0.0", Want: -1},
		// Numeric pre-release identifiers sort numerically.
		{A: "1.0.0-beta.2", B: "1.0.0-beta.10", Want: -1},
		// Build metadata is ignored.
		{A: "1.0.0+a", B: "1.0.0+b", Want: 0},
		{A: "1.2.0", B: "1.10.0", Want: -1},
		{A: "2.0.0", B: "1.9.9", Want: 1},
		{A: "1.0.0", B: "1.0.0", Want: 0},
	}
	for _, tc := range tt {
		t.Run(tc.A+"_"+tc.B, func(t *testing.T) {
			got, err := CompareVersions(tc.A, tc.B)
			if err != nil {
				t.Fatalf("%v", err)
			}
			if got != tc.Want {
				t.Errorf("got: %d, want: %d", got, tc.Want)
			}
		})
	}
}
