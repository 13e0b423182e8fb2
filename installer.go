package oasis

import (
	"fmt"
	"regexp"
	"time"
)

// Installer is a standalone download for first-time installation.
//
// It follows the Artifact upload lifecycle but carries no update signature
// and allows the broader installer platform set.
type Installer struct {
	ID          string    `json:"id"`
	ReleaseID   string    `json:"release_id"`
	Platform    Platform  `json:"platform"`
	Filename    string    `json:"filename"`
	DisplayName *string   `json:"display_name,omitempty"`
	StorageKey  *string   `json:"storage_key,omitempty"`
	DownloadURL *string   `json:"download_url,omitempty"`
	FileSize    *int64    `json:"file_size,omitempty"`
	Checksum    *Checksum `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pending reports whether the installer is an unconfirmed upload slot.
func (i *Installer) Pending() bool {
	return i.StorageKey != nil && i.DownloadURL == nil
}

// Confirmed reports whether the installer is serviceable.
func (i *Installer) Confirmed() bool {
	return i.DownloadURL != nil
}

var filenameRE = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateFilename checks a publisher-supplied object filename. Path
// separators and traversal sequences never survive this check, so validated
// names are safe to join into object-store keys.
func ValidateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("empty or reserved filename")
	case len(name) > 255:
		return fmt.Errorf("filename longer than 255 bytes")
	case !filenameRE.MatchString(name):
		return fmt.Errorf("filename %q has characters outside [A-Za-z0-9._-]", name)
	}
	return nil
}
