package verify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Structure failure reasons
const (
	ReasonSegmentCount    = "segment_count"
	ReasonSegmentEncoding = "segment_encoding"
	ReasonHeaderJSON      = "header_json"
	ReasonHeaderAlg       = "header_alg"
	ReasonPayloadJSON     = "payload_json"
)

// StructureError reports a signed document that is not well formed
type StructureError struct {
	Reason  string
	Segment int // 1-based; 0 when the whole document is at fault
	Err     error
}

func (e *StructureError) Error() string {
	msg := "malformed signed document: " + e.Reason
	if e.Segment > 0 {
		msg += fmt.Sprintf(" (segment %d)", e.Segment)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StructureError) Unwrap() error {
	return e.Err
}

// Decoded holds the unverified parts of a compact signed document
type Decoded struct {
	Header    map[string]any
	Payload   map[string]any
	Algorithm string
	KeyID     string
	Signature []byte
}

// ValidateStructure checks that doc is header.payload.signature with
// base64url segments, a JSON header naming an algorithm, and a JSON
// object payload. It never verifies the signature.
func ValidateStructure(doc string) (*Decoded, error) {
	parts := strings.Split(strings.TrimSpace(doc), ".")
	if len(parts) != 3 {
		return nil, &StructureError{Reason: ReasonSegmentCount, Err: fmt.Errorf("got %d segments, want 3", len(parts))}
	}

	raw := make([][]byte, 3)
	for i, p := range parts {
		b, err := decodeSegment(p)
		if err != nil {
			return nil, &StructureError{Reason: ReasonSegmentEncoding, Segment: i + 1, Err: err}
		}
		raw[i] = b
	}

	d := &Decoded{Signature: raw[2]}
	if err := json.Unmarshal(raw[0], &d.Header); err != nil || d.Header == nil {
		return nil, &StructureError{Reason: ReasonHeaderJSON, Segment: 1, Err: err}
	}
	alg, _ := d.Header["alg"].(string)
	if strings.TrimSpace(alg) == "" {
		return nil, &StructureError{Reason: ReasonHeaderAlg, Segment: 1}
	}
	d.Algorithm = alg
	d.KeyID, _ = d.Header["kid"].(string)

	if err := json.Unmarshal(raw[1], &d.Payload); err != nil || d.Payload == nil {
		return nil, &StructureError{Reason: ReasonPayloadJSON, Segment: 2, Err: err}
	}
	return d, nil
}

func decodeSegment(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty segment")
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
