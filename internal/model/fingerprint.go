package model

import "time"

// Fingerprint caches the content identity of one repository path as of its last scan.
// There is at most one fingerprint per (RepositoryID, Path).
type Fingerprint struct {
	RepositoryID  string    `json:"repository_id"`
	Path          string    `json:"path"`
	ContentID     string    `json:"content_id"`
	Kind          Kind      `json:"kind,omitempty"`
	LastScannedAt time.Time `json:"last_scanned_at"`
}
