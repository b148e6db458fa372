package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignWebhookPayload computes the delivery signature for an outbound
// webhook payload: "sha256=" followed by the hex HMAC-SHA256 of the body
// under the webhook's secret.
func SignWebhookPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a received signature in constant time.
func VerifyWebhookSignature(secret, payload, signature string) bool {
	expected := SignWebhookPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
