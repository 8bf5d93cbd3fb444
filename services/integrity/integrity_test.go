package integrity

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{
			name:  "sorted keys without whitespace",
			input: map[string]any{"b": "value", "a": 1, "c": nil, "d": map[string]any{"z": false, "y": true}},
			want:  `{"a":1,"b":"value","c":null,"d":{"y":true,"z":false}}`,
		},
		{
			name:  "non-ascii escaped",
			input: map[string]any{"text": "café"},
			want:  `{"text":"caf\u00e9"}`,
		},
		{
			name:  "astral plane as surrogate pair",
			input: "😀",
			want:  `"\ud83d\ude00"`,
		},
		{
			name:  "control characters",
			input: "a\nb\tc\u0001\u007f\"\\",
			want:  `"a\nb\tc\u0001\u007f\"\\"`,
		},
		{
			name:  "html characters left alone",
			input: "<a href='/x'>&</a>",
			want:  `"<a href='/x'>&</a>"`,
		},
		{
			name:  "floats keep a fractional part",
			input: []any{0.85, 1.0, 0.0, -2.0, float32(0.5)},
			want:  `[0.85,1.0,0.0,-2.0,0.5]`,
		},
		{
			name:  "floats switch to exponent form at the edges",
			input: []any{1e-7, 0.0001, 1e15, 1e16, 1.5e300},
			want:  `[1e-07,0.0001,1000000000000000.0,1e+16,1.5e+300]`,
		},
		{
			name:  "json numbers kept verbatim",
			input: map[string]any{"n": json.Number("1.0"), "m": json.Number("1e-05")},
			want:  `{"m":1e-05,"n":1.0}`,
		},
		{
			name:  "nil slice is null",
			input: map[string]any{"ids": []string(nil), "empty": []string{}},
			want:  `{"empty":[],"ids":null}`,
		},
		{
			name: "struct through its json form",
			input: struct {
				Zeta  string `json:"zeta"`
				Alpha int    `json:"alpha"`
				Skip  string `json:"-"`
			}{Zeta: "z", Alpha: 2, Skip: "x"},
			want: `{"alpha":2,"zeta":"z"}`,
		},
		{
			name: "struct omitempty and untagged fields",
			input: struct {
				Name  string
				Note  string   `json:"note,omitempty"`
				Tags  []string `json:"tags,omitempty"`
				Ratio *float64 `json:"ratio"`
			}{Name: "n"},
			want: `{"Name":"n","ratio":null}`,
		},
		{
			name: "embedded fields are promoted",
			input: struct {
				BaseFields
				ID string `json:"id"`
			}{BaseFields: BaseFields{ID: "shadowed", Kind: "k"}, ID: "outer"},
			want: `{"id":"outer","kind":"k"}`,
		},
		{
			name:  "text marshalers become strings",
			input: map[string]any{"id": uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")},
			want:  `{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalize_Times(t *testing.T) {
	whole := time.Date(2024, 1, 31, 12, 0, 5, 0, time.UTC)
	frac := time.Date(2024, 1, 31, 12, 0, 5, 123456789, time.FixedZone("x", 3600))

	got, err := Canonicalize(map[string]any{"a": whole, "b": &frac, "c": (*time.Time)(nil)})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"2024-01-31T12:00:05+00:00","b":"2024-01-31T11:00:05.123456+00:00","c":null}`, string(got))
}

type BaseFields struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func TestCanonicalize_StructTimesMatchMaps(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	conf := 1.0

	fromStruct, err := Canonicalize(struct {
		CreatedAt  time.Time  `json:"created_at"`
		UpdatedAt  *time.Time `json:"updated_at"`
		Confidence *float64   `json:"conf"`
	}{CreatedAt: ts, UpdatedAt: &ts, Confidence: &conf})
	require.NoError(t, err)

	fromMap, err := Canonicalize(map[string]any{"created_at": ts, "updated_at": ts, "conf": conf})
	require.NoError(t, err)

	assert.Equal(t, string(fromMap), string(fromStruct))
	assert.Equal(t, `{"conf":1.0,"created_at":"2026-01-02T03:04:05.123456+00:00","updated_at":"2026-01-02T03:04:05.123456+00:00"}`, string(fromStruct))

	decoded, err := Decode(fromStruct)
	require.NoError(t, err)
	again, err := Canonicalize(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(fromStruct), string(again))
}

func TestCanonicalize_Errors(t *testing.T) {
	_, err := Canonicalize(map[int]string{1: "a"})
	assert.ErrorIs(t, err, ErrNonStringMapKey)

	_, err = Canonicalize(map[string]any{"f": func() {}})
	assert.Error(t, err)

	_, err = Canonicalize(json.Number("abc"))
	assert.ErrorIs(t, err, ErrInvalidNumber)
}

func TestHash_OrderIndependent(t *testing.T) {
	a := map[string]any{"x": 1, "y": []any{"p", "q"}, "z": map[string]any{"k": "v", "j": nil}}
	b := map[string]any{"z": map[string]any{"j": nil, "k": "v"}, "y": []any{"p", "q"}, "x": 1}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	again, err := Hash(a)
	require.NoError(t, err)
	assert.Equal(t, ha, again)
}

func TestSign_DependsOnSecret(t *testing.T) {
	sig, err := Sign("k", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	other, err := Sign("other", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.NotEqual(t, sig, other)
}

func samplePayload() map[string]any {
	return map[string]any{
		"trace_id":     "trace-1",
		"generated_at": time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
		"tenant":       "acme",
		"decisions": []any{
			map[string]any{"decision_id": "d-1", "confidence": 0.72, "output": "approve ✓"},
		},
		"total": 1,
	}
}

// roundTrip serializes a sealed document and reads it back the way the
// verifier sees stored objects.
func roundTrip(t *testing.T, sealed *Sealed) map[string]any {
	t.Helper()
	body, err := sealed.Bytes()
	require.NoError(t, err)
	doc, err := DecodeDocument(body)
	require.NoError(t, err)
	return doc
}

func TestSeal_Trailer(t *testing.T) {
	t.Run("unsigned", func(t *testing.T) {
		sealed, err := NewSigner("", "ignored").Seal(samplePayload())
		require.NoError(t, err)

		assert.Equal(t, AlgorithmNone, sealed.Trailer.SignatureAlg)
		assert.Nil(t, sealed.Trailer.Signature)
		assert.Nil(t, sealed.Trailer.SignatureKeyID)

		want, err := Hash(samplePayload())
		require.NoError(t, err)
		assert.Equal(t, want, sealed.Trailer.ReportHash)
		assert.Len(t, sealed.Document, len(samplePayload())+4)
	})

	t.Run("signed", func(t *testing.T) {
		sealed, err := NewSigner("secret", "key-2024").Seal(samplePayload())
		require.NoError(t, err)

		assert.Equal(t, AlgorithmHMACSHA256, sealed.Trailer.SignatureAlg)
		require.NotNil(t, sealed.Trailer.Signature)
		require.NotNil(t, sealed.Trailer.SignatureKeyID)
		assert.Equal(t, "key-2024", *sealed.Trailer.SignatureKeyID)

		want, err := Sign("secret", samplePayload())
		require.NoError(t, err)
		assert.Equal(t, want, *sealed.Trailer.Signature)
	})

	t.Run("reseal replaces trailer", func(t *testing.T) {
		signer := NewSigner("secret", "")
		first, err := signer.Seal(samplePayload())
		require.NoError(t, err)
		second, err := signer.Seal(first.Document)
		require.NoError(t, err)
		assert.Equal(t, first.Trailer.ReportHash, second.Trailer.ReportHash)
		assert.Nil(t, second.Trailer.SignatureKeyID)
	})
}

func TestVerify_RoundTrip(t *testing.T) {
	signer := NewSigner("secret", "key-1")
	sealed, err := signer.Seal(samplePayload())
	require.NoError(t, err)

	res, err := signer.Verify(roundTrip(t, sealed), VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.True(t, res.HashMatch)
	assert.True(t, res.SignatureValid)
	assert.Empty(t, res.Errors)
	assert.Equal(t, sealed.Trailer.ReportHash, res.ComputedHash)
	require.NotNil(t, res.SignatureKeyID)
	assert.Equal(t, "key-1", *res.SignatureKeyID)
}

func TestVerify_Unsigned(t *testing.T) {
	signer := NewSigner("", "")
	sealed, err := signer.Seal(samplePayload())
	require.NoError(t, err)

	res, err := signer.Verify(roundTrip(t, sealed), VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, res.Verified)

	doc := roundTrip(t, sealed)
	doc[FieldSignature] = "forged"
	res, err = signer.Verify(doc, VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.False(t, res.SignatureValid)
	assert.Equal(t, []string{ReasonUnexpectedSignature}, res.Errors)
}

func TestVerify_Failures(t *testing.T) {
	signer := NewSigner("secret", "key-1")

	tests := []struct {
		name       string
		verifier   *Signer
		mutate     func(doc map[string]any)
		opts       VerifyOptions
		wantErrors []string
	}{
		{
			name:     "payload altered",
			verifier: signer,
			mutate: func(doc map[string]any) {
				doc["tenant"] = "globex"
			},
			wantErrors: []string{ReasonHashMismatch, ReasonSignatureMismatch},
		},
		{
			name:     "signature flipped",
			verifier: signer,
			mutate: func(doc map[string]any) {
				sig := []byte(doc[FieldSignature].(string))
				sig[0] ^= 0x01
				doc[FieldSignature] = string(sig)
			},
			wantErrors: []string{ReasonSignatureMismatch},
		},
		{
			name:     "stored hash removed",
			verifier: signer,
			mutate: func(doc map[string]any) {
				delete(doc, FieldReportHash)
			},
			wantErrors: []string{ReasonHashMismatch},
		},
		{
			name:     "signature missing",
			verifier: signer,
			mutate: func(doc map[string]any) {
				doc[FieldSignature] = nil
			},
			wantErrors: []string{ReasonMissingSignature},
		},
		{
			name:       "verifier has no key",
			verifier:   NewSigner("", ""),
			wantErrors: []string{ReasonSigningKeyNotConfigured},
		},
		{
			name:     "downgraded to none with signature left in place",
			verifier: signer,
			mutate: func(doc map[string]any) {
				doc[FieldSignatureAlg] = AlgorithmNone
			},
			wantErrors: []string{ReasonUnexpectedSignature},
		},
		{
			name:     "unsupported algorithm",
			verifier: signer,
			mutate: func(doc map[string]any) {
				doc[FieldSignatureAlg] = "rsa-sha256"
			},
			wantErrors: []string{ReasonUnsupportedSignatureAlg},
		},
		{
			name:       "expectations not met",
			verifier:   signer,
			opts:       VerifyOptions{ExpectedHash: strPtr("deadbeef"), ExpectedKeyID: strPtr("key-2")},
			wantErrors: []string{ReasonExpectedHashMismatch, ReasonSignatureKeyIDMismatch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := signer.Seal(samplePayload())
			require.NoError(t, err)
			doc := roundTrip(t, sealed)
			if tt.mutate != nil {
				tt.mutate(doc)
			}

			res, err := tt.verifier.Verify(doc, tt.opts)
			require.NoError(t, err)
			assert.False(t, res.Verified)
			assert.Equal(t, tt.wantErrors, res.Errors)
		})
	}
}

func TestVerify_ExpectationsMet(t *testing.T) {
	signer := NewSigner("secret", "key-1")
	sealed, err := signer.Seal(samplePayload())
	require.NoError(t, err)

	res, err := signer.Verify(roundTrip(t, sealed), VerifyOptions{
		ExpectedHash:  strPtr(sealed.Trailer.ReportHash),
		ExpectedKeyID: strPtr("key-1"),
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	require.NotNil(t, res.ExpectedHashMatch)
	assert.True(t, *res.ExpectedHashMatch)
	require.NotNil(t, res.ExpectedKeyIDMatch)
	assert.True(t, *res.ExpectedKeyIDMatch)
}

func TestVerify_AlteredStoredBytes(t *testing.T) {
	signer := NewSigner("", "")
	sealed, err := signer.Seal(samplePayload())
	require.NoError(t, err)
	body, err := sealed.Bytes()
	require.NoError(t, err)

	altered := bytes.Replace(body, []byte(`"acme"`), []byte(`"acmf"`), 1)
	require.NotEqual(t, body, altered)
	doc, err := DecodeDocument(altered)
	require.NoError(t, err)

	res, err := signer.Verify(doc, VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Contains(t, res.Errors, ReasonHashMismatch)
}

func TestDecodeDocument(t *testing.T) {
	_, err := DecodeDocument([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = DecodeDocument([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)

	doc, err := DecodeDocument([]byte(`{"n":0.50}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("0.50"), doc["n"])
}

func strPtr(s string) *string { return &s }
