package vnpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// EncodeMode selects how parameter values are encoded into the canonical
// string before hashing. Gateway SDK versions disagree on this, so both
// modes exist and verification tries the configured one first.
type EncodeMode string

const (
	// EncodeModeForm encodes like an HTML form: spaces become '+'.
	EncodeModeForm EncodeMode = "form"
	// EncodeModePercent percent-encodes everything, spaces become '%20'.
	EncodeModePercent EncodeMode = "percent"
)

// Signer computes and verifies the secure hash over gateway parameters.
type Signer struct {
	secret   []byte
	algo     string
	encoding EncodeMode
}

// NewSigner creates a signer with the configured HMAC algorithm
// ("sha256" or "sha512") and encoding mode.
func NewSigner(secret string, algo string, encoding EncodeMode) *Signer {
	if algo == "" {
		algo = "sha512"
	}
	if encoding == "" {
		encoding = EncodeModeForm
	}
	return &Signer{
		secret:   []byte(secret),
		algo:     strings.ToLower(algo),
		encoding: encoding,
	}
}

// HashType returns the value advertised in the secureHashType field.
func (s *Signer) HashType() string {
	return strings.ToUpper(s.algo)
}

// Sign computes the secure hash over the canonical form of params.
// The hash fields themselves are never part of the canonical string.
func (s *Signer) Sign(params map[string]string) string {
	return s.signCanonical(s.canonicalize(params, s.encoding))
}

// SignData computes the secure hash over an already-joined data string,
// used by the server-to-server query and charge commands.
func (s *Signer) SignData(fields ...string) string {
	return s.signCanonical(strings.Join(fields, "|"))
}

// Verify recomputes the hash over all fields excluding the hash itself and
// compares case-insensitively. Both encoding modes are tried so callbacks
// from older gateway SDKs still verify.
func (s *Signer) Verify(params url.Values) bool {
	got := params.Get(FieldSecureHash)
	if got == "" {
		return false
	}

	fields := make(map[string]string, len(params))
	for key := range params {
		if key == FieldSecureHash || key == FieldSecureHashType {
			continue
		}
		fields[key] = params.Get(key)
	}

	if s.hashEqual(got, s.signCanonical(s.canonicalize(fields, s.encoding))) {
		return true
	}

	other := EncodeModePercent
	if s.encoding == EncodeModePercent {
		other = EncodeModeForm
	}
	return s.hashEqual(got, s.signCanonical(s.canonicalize(fields, other)))
}

// canonicalize builds the canonical query string: keys sorted, empty values
// dropped, values encoded per mode.
func (s *Signer) canonicalize(params map[string]string, mode EncodeMode) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(encodeValue(params[key], mode))
	}
	return b.String()
}

func encodeValue(value string, mode EncodeMode) string {
	escaped := url.QueryEscape(value)
	if mode == EncodeModePercent {
		return strings.ReplaceAll(escaped, "+", "%20")
	}
	return escaped
}

func (s *Signer) signCanonical(canonical string) string {
	var mac hash.Hash
	if s.algo == "sha256" {
		mac = hmac.New(sha256.New, s.secret)
	} else {
		mac = hmac.New(sha512.New, s.secret)
	}
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) hashEqual(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(strings.ToLower(b)))
}

// TolerantAmountMatch reports whether a callback amount matches the stored
// minor-unit amount under any representation older gateway SDKs used: the
// wire format (minor units x 100), plain minor units, or major units.
// Only the best-effort return path may use this; the IPN requires
// ExactAmountMatch.
func TolerantAmountMatch(expectedMinor, got int64) bool {
	if got == expectedMinor*100 || got == expectedMinor {
		return true
	}
	return expectedMinor%100 == 0 && got == expectedMinor/100
}

// ExactAmountMatch reports whether a callback amount matches the stored
// minor-unit amount in the wire format exactly.
func ExactAmountMatch(expectedMinor, got int64) bool {
	return got == expectedMinor*100
}
