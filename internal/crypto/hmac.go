package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// WebhookSigner signs outbound webhook payloads so receivers can verify both
// origin and freshness.
type WebhookSigner struct {
	Secret string
}

// Headers returns the HTTP headers for a signed webhook delivery. The
// signature is HMAC-SHA256(secret, timestamp+"."+body) encoded as hex.
//
// Returned header keys:
//   - X-Stratcore-Timestamp
//   - X-Stratcore-Signature
func (s *WebhookSigner) Headers(body []byte) map[string]string {
	return s.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (s *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Hex([]byte(s.Secret), ts+"."+string(body))

	return map[string]string{
		"X-Stratcore-Timestamp": ts,
		"X-Stratcore-Signature": sig,
	}
}

// Verify reports whether signature matches the given body and timestamp, and
// whether the timestamp is within tolerance of now. Comparison is
// constant-time.
func (s *WebhookSigner) Verify(body []byte, ts string, signature string, tolerance time.Duration, now time.Time) bool {
	unixTS, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(unixTS, 0))
	if age < -tolerance || age > tolerance {
		return false
	}

	want := hmacSHA256Hex([]byte(s.Secret), ts+"."+string(body))
	return hmac.Equal([]byte(want), []byte(signature))
}

// String returns a redacted representation suitable for logging.
func (s *WebhookSigner) String() string {
	secret := s.Secret
	if len(secret) <= 4 {
		secret = "****"
	} else {
		secret = secret[:4] + "****"
	}
	return fmt.Sprintf("WebhookSigner{secret=%s}", secret)
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
