package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Signature algorithms written to the artifact trailer
const (
	AlgorithmNone       = "none"
	AlgorithmHMACSHA256 = "hmac-sha256"
)

// Trailer field names. Verification strips exactly these.
const (
	FieldReportHash     = "report_hash_sha256"
	FieldSignatureAlg   = "signature_alg"
	FieldSignatureKeyID = "signature_key_id"
	FieldSignature      = "signature"
)

var trailerFields = []string{FieldReportHash, FieldSignatureAlg, FieldSignatureKeyID, FieldSignature}

// Hash returns the hex SHA-256 of the canonical form of v
func Hash(v any) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Sign returns the base64 HMAC-SHA256 of the canonical form of v
func Sign(secret string, v any) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Trailer is the integrity block appended to every stored artifact
type Trailer struct {
	ReportHash     string  `json:"report_hash_sha256"`
	SignatureAlg   string  `json:"signature_alg"`
	SignatureKeyID *string `json:"signature_key_id"`
	Signature      *string `json:"signature"`
}

// Sealed is a payload with its trailer applied
type Sealed struct {
	Document map[string]any
	Trailer  Trailer
}

// Bytes returns the document as written to the object store
func (s *Sealed) Bytes() ([]byte, error) {
	return Canonicalize(s.Document)
}

// Signer seals artifacts. Without a key it still hashes and marks the
// artifact unsigned.
type Signer struct {
	key   string
	keyID string
}

// NewSigner creates a signer. An empty key disables signing.
func NewSigner(key, keyID string) *Signer {
	return &Signer{key: key, keyID: keyID}
}

// Enabled reports whether artifacts get an HMAC signature
func (s *Signer) Enabled() bool {
	return s != nil && s.key != ""
}

// Algorithm is the signature_alg this signer writes
func (s *Signer) Algorithm() string {
	if s.Enabled() {
		return AlgorithmHMACSHA256
	}
	return AlgorithmNone
}

// KeyID is the signature_key_id this signer writes, nil when unsigned or unnamed
func (s *Signer) KeyID() *string {
	if !s.Enabled() || s.keyID == "" {
		return nil
	}
	id := s.keyID
	return &id
}

// Seal hashes and optionally signs payload, returning a copy with the four
// trailer fields set. Trailer fields already present in payload are replaced.
func (s *Signer) Seal(payload map[string]any) (*Sealed, error) {
	unsigned := StripTrailer(payload)

	hash, err := Hash(unsigned)
	if err != nil {
		return nil, err
	}
	trailer := Trailer{ReportHash: hash, SignatureAlg: s.Algorithm(), SignatureKeyID: s.KeyID()}
	if s.Enabled() {
		sig, err := Sign(s.key, unsigned)
		if err != nil {
			return nil, err
		}
		trailer.Signature = &sig
	}

	doc := make(map[string]any, len(unsigned)+len(trailerFields))
	for k, v := range unsigned {
		doc[k] = v
	}
	doc[FieldReportHash] = trailer.ReportHash
	doc[FieldSignatureAlg] = trailer.SignatureAlg
	doc[FieldSignatureKeyID] = trailer.SignatureKeyID
	doc[FieldSignature] = trailer.Signature

	return &Sealed{Document: doc, Trailer: trailer}, nil
}

// StripTrailer returns a shallow copy of document without the trailer fields
func StripTrailer(document map[string]any) map[string]any {
	out := make(map[string]any, len(document))
	for k, v := range document {
		out[k] = v
	}
	for _, f := range trailerFields {
		delete(out, f)
	}
	return out
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
