package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyFanbasesWebhookSignature(t *testing.T) {
	body := []byte(`{"payment_id":"pay_1","amount":4900}`)
	secret := "whsec_test"

	assert.True(t, VerifyFanbasesWebhookSignature(body, signBody(body, secret), secret))

	// Uppercase hex is accepted.
	assert.True(t, VerifyFanbasesWebhookSignature(body, strings.ToUpper(signBody(body, secret)), secret))

	// Wrong secret, tampered body, malformed and empty signatures all fail.
	assert.False(t, VerifyFanbasesWebhookSignature(body, signBody(body, "other"), secret))
	assert.False(t, VerifyFanbasesWebhookSignature([]byte(`{"payment_id":"pay_2"}`), signBody(body, secret), secret))
	assert.False(t, VerifyFanbasesWebhookSignature(body, "not-hex", secret))
	assert.False(t, VerifyFanbasesWebhookSignature(body, "", secret))
	assert.False(t, VerifyFanbasesWebhookSignature(body, signBody(body, secret), ""))
}
