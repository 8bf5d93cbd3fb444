package integrity

import "fmt"

// Verification failure reasons. Several may be reported at once.
const (
	ReasonHashMismatch            = "hash_mismatch"
	ReasonExpectedHashMismatch    = "expected_hash_mismatch"
	ReasonSigningKeyNotConfigured = "signing_key_not_configured"
	ReasonMissingSignature        = "missing_signature"
	ReasonSignatureMismatch       = "signature_mismatch"
	ReasonUnexpectedSignature     = "unexpected_signature"
	ReasonUnsupportedSignatureAlg = "unsupported_signature_alg"
	ReasonSignatureKeyIDMismatch  = "signature_key_id_mismatch"
)

// VerifyOptions carries the caller's optional expectations
type VerifyOptions struct {
	ExpectedHash  *string
	ExpectedKeyID *string
}

// VerificationResult itemizes every check made on a document
type VerificationResult struct {
	ComputedHash       string   `json:"computed_report_hash_sha256"`
	StoredHash         *string  `json:"stored_report_hash_sha256"`
	HashMatch          bool     `json:"hash_match"`
	ExpectedHashMatch  *bool    `json:"expected_hash_match"`
	SignatureAlg       string   `json:"signature_alg"`
	SignatureKeyID     *string  `json:"signature_key_id"`
	SignatureValid     bool     `json:"signature_valid"`
	ExpectedKeyIDMatch *bool    `json:"expected_signature_key_match"`
	Verified           bool     `json:"verified"`
	Errors             []string `json:"errors"`
}

// Verify recomputes the hash and signature of document with its trailer
// stripped and compares them with the stored trailer.
func (s *Signer) Verify(document map[string]any, opts VerifyOptions) (*VerificationResult, error) {
	unsigned := StripTrailer(document)
	computed, err := Hash(unsigned)
	if err != nil {
		return nil, err
	}

	res := &VerificationResult{
		ComputedHash:   computed,
		SignatureAlg:   trailerString(document[FieldSignatureAlg]),
		SignatureKeyID: optionalString(document[FieldSignatureKeyID]),
		Errors:         []string{},
	}
	if res.SignatureAlg == "" {
		res.SignatureAlg = AlgorithmNone
	}

	if stored, ok := document[FieldReportHash].(string); ok {
		res.StoredHash = &stored
		res.HashMatch = stored != "" && constantTimeEqual(computed, stored)
	}
	if !res.HashMatch {
		res.Errors = append(res.Errors, ReasonHashMismatch)
	}

	if opts.ExpectedHash != nil {
		match := constantTimeEqual(computed, *opts.ExpectedHash)
		res.ExpectedHashMatch = &match
		if !match {
			res.Errors = append(res.Errors, ReasonExpectedHashMismatch)
		}
	}

	signature := optionalString(document[FieldSignature])
	switch res.SignatureAlg {
	case AlgorithmNone:
		res.SignatureValid = signature == nil
		if !res.SignatureValid {
			res.Errors = append(res.Errors, ReasonUnexpectedSignature)
		}
	case AlgorithmHMACSHA256:
		switch {
		case !s.Enabled():
			res.Errors = append(res.Errors, ReasonSigningKeyNotConfigured)
		case signature == nil:
			res.Errors = append(res.Errors, ReasonMissingSignature)
		default:
			expected, err := Sign(s.key, unsigned)
			if err != nil {
				return nil, err
			}
			res.SignatureValid = constantTimeEqual(*signature, expected)
			if !res.SignatureValid {
				res.Errors = append(res.Errors, ReasonSignatureMismatch)
			}
		}
	default:
		res.Errors = append(res.Errors, ReasonUnsupportedSignatureAlg)
	}

	if opts.ExpectedKeyID != nil {
		match := res.SignatureKeyID != nil && *res.SignatureKeyID == *opts.ExpectedKeyID
		res.ExpectedKeyIDMatch = &match
		if !match {
			res.Errors = append(res.Errors, ReasonSignatureKeyIDMismatch)
		}
	}

	res.Verified = res.HashMatch && res.SignatureValid
	if res.ExpectedHashMatch != nil {
		res.Verified = res.Verified && *res.ExpectedHashMatch
	}
	if res.ExpectedKeyIDMatch != nil {
		res.Verified = res.Verified && *res.ExpectedKeyIDMatch
	}
	return res, nil
}

// trailerString reads a trailer value loosely: absent, null and false read
// as empty, other scalars as their text.
func trailerString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		if !value {
			return ""
		}
	}
	return fmt.Sprint(v)
}

func optionalString(v any) *string {
	s := trailerString(v)
	if s == "" {
		return nil
	}
	return &s
}
