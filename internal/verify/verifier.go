package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/ppiankov/traceguard/internal/model"
)

// ReasonKeysUnavailable is reported by the development fallback
const ReasonKeysUnavailable = "signing keys unavailable"

// Outcome is the typed result of verifying one signed document.
// A failed verification is an outcome, never an error.
type Outcome struct {
	IsValid    bool           `json:"is_valid"`
	Reason     string         `json:"reason,omitempty"`
	Algorithm  string         `json:"algorithm,omitempty"`
	KeyID      string         `json:"key_id,omitempty"`
	Header     map[string]any `json:"header,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	VerifiedAt time.Time      `json:"verified_at"`
}

// Verification converts the outcome into the stored evidence fields
func (o *Outcome) Verification() *model.Verification {
	at := o.VerifiedAt
	return &model.Verification{
		SignatureValid: o.IsValid,
		VerifiedAt:     &at,
		Algorithm:      o.Algorithm,
		KeyID:          o.KeyID,
		Header:         o.Header,
		Payload:        o.Payload,
		Reason:         o.Reason,
	}
}

// Verifier checks signed evidence documents against a keystore
type Verifier struct {
	keys            *KeyStore
	algorithms      []jose.SignatureAlgorithm
	leeway          time.Duration
	allowUnverified bool
	now             func() time.Time
}

// knownAlgorithms are the asymmetric algorithms a keystore can verify
var knownAlgorithms = map[jose.SignatureAlgorithm]bool{
	jose.EdDSA: true,
	jose.RS256: true, jose.RS384: true, jose.RS512: true,
	jose.ES256: true, jose.ES384: true, jose.ES512: true,
	jose.PS256: true, jose.PS384: true, jose.PS512: true,
}

// NewVerifier creates a verifier. Production configuration must supply
// real keys and may not enable the unverified fallback.
func NewVerifier(keys *KeyStore, cfg model.VerificationConfig, production bool) (*Verifier, error) {
	if production {
		if cfg.AllowUnverified {
			return nil, fmt.Errorf("%w: allow_unverified is refused in production", ErrConfig)
		}
		if keys.Len() == 0 {
			return nil, fmt.Errorf("%w: no verification keys configured", ErrConfig)
		}
		if keys.Development() {
			return nil, fmt.Errorf("%w: development key is refused in production", ErrConfig)
		}
	}

	names := cfg.Algorithms
	if len(names) == 0 {
		names = []string{string(jose.EdDSA), string(jose.ES256), string(jose.RS256)}
	}
	algs := make([]jose.SignatureAlgorithm, 0, len(names))
	for _, n := range names {
		alg := jose.SignatureAlgorithm(strings.TrimSpace(n))
		if !knownAlgorithms[alg] {
			return nil, fmt.Errorf("%w: unknown signature algorithm %q", ErrConfig, n)
		}
		algs = append(algs, alg)
	}

	if keys == nil {
		keys, _ = NewKeyStore()
	}
	return &Verifier{
		keys:            keys,
		algorithms:      algs,
		leeway:          cfg.Leeway,
		allowUnverified: cfg.AllowUnverified,
		now:             time.Now,
	}, nil
}

// Verify checks structure, signature and time claims of doc
func (v *Verifier) Verify(doc string) Outcome {
	out := Outcome{VerifiedAt: v.now().UTC()}

	decoded, err := ValidateStructure(doc)
	if err != nil {
		out.Reason = err.Error()
		return out
	}
	out.Header = decoded.Header
	out.Payload = decoded.Payload
	out.Algorithm = decoded.Algorithm
	out.KeyID = decoded.KeyID

	if v.keys.Len() == 0 {
		if v.allowUnverified {
			out.Reason = ReasonKeysUnavailable
		} else {
			out.Reason = "no verification keys configured"
		}
		return out
	}

	if !v.allowed(jose.SignatureAlgorithm(decoded.Algorithm)) {
		out.Reason = fmt.Sprintf("algorithm %s is not accepted", decoded.Algorithm)
		return out
	}

	key, ok := v.keys.Lookup(decoded.KeyID)
	if !ok {
		out.Reason = fmt.Sprintf("unknown key id %q", decoded.KeyID)
		return out
	}

	jws, err := jose.ParseSigned(strings.TrimSpace(doc), v.algorithms)
	if err != nil {
		out.Reason = fmt.Sprintf("parse signed document: %v", err)
		return out
	}
	payload, err := jws.Verify(key)
	if err != nil {
		out.Reason = "signature verification failed"
		return out
	}

	if reason := v.checkClaims(payload); reason != "" {
		out.Reason = reason
		return out
	}

	out.IsValid = true
	return out
}

func (v *Verifier) allowed(alg jose.SignatureAlgorithm) bool {
	for _, a := range v.algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// checkClaims validates exp, nbf and iat when present
func (v *Verifier) checkClaims(payload []byte) string {
	var claims jwt.Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return fmt.Sprintf("invalid registered claims: %v", err)
	}

	err := claims.ValidateWithLeeway(jwt.Expected{Time: v.now()}, v.leeway)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jwt.ErrExpired):
		return "evidence signature expired"
	case errors.Is(err, jwt.ErrNotValidYet):
		return "evidence signature not yet valid"
	case errors.Is(err, jwt.ErrIssuedInTheFuture):
		return "evidence issued in the future"
	default:
		return err.Error()
	}
}
