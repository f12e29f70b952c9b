package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHMACVerifierAcceptsValidSignature(t *testing.T) {
	v := NewHMACVerifier("shh")
	body := []byte(`{"type":"checkout.session.completed"}`)
	if err := v.Verify(body, sign("shh", body)); err != nil {
		t.Errorf("expected valid signature to verify, got %v", err)
	}
}

func TestHMACVerifierRejectsTamperedBody(t *testing.T) {
	v := NewHMACVerifier("shh")
	body := []byte(`{"type":"checkout.session.completed"}`)
	sig := sign("shh", body)
	tampered := []byte(`{"type":"checkout.session.completed","amount":999999}`)
	if err := v.Verify(tampered, sig); err == nil {
		t.Error("expected tampered body to fail verification")
	}
}

func TestHMACVerifierRejectsWrongSecret(t *testing.T) {
	v := NewHMACVerifier("shh")
	body := []byte(`{"type":"checkout.session.completed"}`)
	if err := v.Verify(body, sign("different", body)); err == nil {
		t.Error("expected signature signed with a different secret to fail")
	}
}
