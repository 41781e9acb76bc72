package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"
)

// CanonicalQuery sorts params by key, percent-encodes each value and joins
// them as key=value pairs. Empty values and the signature fields are skipped.
func CanonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == ParamSecureHash || key == ParamSecureHashType {
			continue
		}
		if params.Get(key) == "" {
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
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(key)))
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA512 of the canonical query.
func Sign(secret string, params url.Values) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(CanonicalQuery(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over every field except the signature
// itself and compares it in constant time. Hex case is ignored.
func Verify(secret string, params url.Values) bool {
	supplied := strings.TrimSpace(params.Get(ParamSecureHash))
	if supplied == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(supplied))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(CanonicalQuery(params)))
	return hmac.Equal(got, mac.Sum(nil))
}
