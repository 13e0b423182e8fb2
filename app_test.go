package oasis

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"
)

func TestValidateSlug(t *testing.T) {
	tt := []struct {
		In string
		OK bool
	}{
		{In: "note", OK: true},
		{In: "my-app", OK: true},
		{In: "a2", OK: true},
		{In: "app-2-go", OK: true},
		{In: strings.Repeat("a", 50), OK: true},
		{In: "a", OK: false},
		{In: strings.Repeat("a", 51), OK: false},
		{In: "My-App", OK: false},
		{In: "2app", OK: false},
		{In: "app-", OK: false},
		{In: "-app", OK: false},
		{In: "my--app", OK: false},
		{In: "my_app", OK: false},
		{In: "", OK: false},
	}
	for _, tc := range tt {
		t.Run(tc.In, func(t *testing.T) {
			err := ValidateSlug(tc.In)
			if tc.OK && err != nil {
				t.Errorf("%q: %v", tc.In, err)
			}
			if !tc.OK && err == nil {
				t.Errorf("%q: expected error", tc.In)
			}
		})
	}
}

func TestValidatePublicKey(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(make([]byte, ed25519.PublicKeySize))
	minisign := base64.StdEncoding.EncodeToString(make([]byte, ed25519.PublicKeySize+10))
	keyfile := base64.StdEncoding.EncodeToString([]byte("untrusted comment: minisign public key\nRWTgibberish\n"))
	tt := []struct {
		Name string
		In   string
		OK   bool
	}{
		{Name: "RawEd25519", In: raw, OK: true},
		{Name: "Minisign", In: minisign, OK: true},
		{Name: "MinisignKeyfile", In: keyfile, OK: true},
		{Name: "NotBase64", In: "!!not-base64!!", OK: false},
		{Name: "WrongLength", In: base64.StdEncoding.EncodeToString([]byte("short")), OK: false},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			err := ValidatePublicKey(tc.In)
			if tc.OK && err != nil {
				t.Errorf("%v", err)
			}
			if !tc.OK && err == nil {
				t.Error("expected error")
			}
		})
	}
}
