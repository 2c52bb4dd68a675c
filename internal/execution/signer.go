package execution

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Signer authenticates settlement requests with an HMAC-SHA256 signature
type Signer struct {
	apiKey string
	secret string
	now    func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, secret string) *Signer {
	return &Signer{
		apiKey: apiKey,
		secret: secret,
		now:    time.Now,
	}
}

// GenerateHeaders creates the authentication headers for a request.
// The signed payload is timestamp + method + path + body, timestamp in Unix milliseconds.
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	payload := timestamp + method + path + body

	return map[string]string{
		"X-TPSL-KEY":       s.apiKey,
		"X-TPSL-SIGN":      computeHmacSha256(payload, s.secret),
		"X-TPSL-TIMESTAMP": timestamp,
	}
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
