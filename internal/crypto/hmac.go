package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names sent on every authenticated REST request.
const (
	HeaderKey        = "X-API-KEY"
	HeaderTimestamp  = "X-API-TS"
	HeaderSignature  = "X-API-SIGN"
	HeaderSubaccount = "X-API-SUBACCOUNT"
)

// HMACAuth holds the credentials for HMAC-authenticated exchange requests.
type HMACAuth struct {
	Key        string
	Secret     string
	Subaccount string
}

// Headers returns the authentication headers for a request. The signature
// is hex(HMAC-SHA256(secret, timestamp+method+path+body)) where timestamp is
// Unix milliseconds and path includes the query string.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the Unix millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixMillis int64) map[string]string {
	ts := strconv.FormatInt(unixMillis, 10)

	headers := map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign(h.Secret, ts+method+path+body),
	}
	if h.Subaccount != "" {
		headers[HeaderSubaccount] = h.Subaccount
	}
	return headers
}

// Sign computes HMAC-SHA256 of message with secret, hex encoded.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s, subaccount=%s}", redact(h.Key), redact(h.Secret), h.Subaccount)
}
