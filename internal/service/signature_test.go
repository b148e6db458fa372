package service

import (
	"strings"
	"testing"
)

func TestWebhookSignatureRoundTrip(t *testing.T) {
	secret := "whsec_abc123"
	payload := `{"event":"agent.reply","data":{"agent_id":"a1"}}`

	sig := SignWebhookPayload(secret, payload)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature missing scheme prefix: %q", sig)
	}

	if !VerifyWebhookSignature(secret, payload, sig) {
		t.Error("valid signature rejected")
	}
}

func TestWebhookSignatureTamperRejected(t *testing.T) {
	secret := "whsec_abc123"
	payload := `{"event":"agent.reply"}`
	sig := SignWebhookPayload(secret, payload)

	if VerifyWebhookSignature(secret, payload+" ", sig) {
		t.Error("tampered payload accepted")
	}
	if VerifyWebhookSignature("wrong-secret", payload, sig) {
		t.Error("wrong secret accepted")
	}
	if VerifyWebhookSignature(secret, payload, "sha256=0000") {
		t.Error("forged signature accepted")
	}
}
