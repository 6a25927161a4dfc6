package model

import "time"

// Verification is the mutable verification state of an evidence artifact.
// It is written independently of artifact creation, by signature verification.
type Verification struct {
	SignatureValid bool           `json:"signature_valid"`
	VerifiedAt     *time.Time     `json:"verified_at,omitempty"`
	Algorithm      string         `json:"algorithm,omitempty"`
	KeyID          string         `json:"key_id,omitempty"`
	Header         map[string]any `json:"header,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Reason         string         `json:"reason,omitempty"` // Why the signature was not accepted
}
