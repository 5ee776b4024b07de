package shop

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

const HMACHeader = "X-Shopify-Hmac-Sha256"

// VerifyWebhook checks the base64 HMAC-SHA256 Shopify sends over the raw body.
func VerifyWebhook(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value Shopify would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
