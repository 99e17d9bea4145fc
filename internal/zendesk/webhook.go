package zendesk

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
)

// Webhook signing headers.
const (
	SignatureHeader          = "X-Zendesk-Webhook-Signature"
	SignatureTimestampHeader = "X-Zendesk-Webhook-Signature-Timestamp"
)

// VerifyWebhook checks a webhook signature: base64(HMAC-SHA256(secret, timestamp+body)).
// When tolerance is positive, timestamps further than tolerance from now are rejected.
// Error messages never include the expected signature.
func VerifyWebhook(secret []byte, signature, timestamp string, body []byte, now time.Time, tolerance time.Duration) error {
	if len(secret) == 0 {
		return errors.New("webhook signature: secret is empty")
	}
	if signature == "" || timestamp == "" {
		return errors.New("webhook signature: missing signature headers")
	}

	if tolerance > 0 {
		ts, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return errors.Wrap(err, "webhook signature: invalid timestamp")
		}
		if skew := now.Sub(ts); skew > tolerance || skew < -tolerance {
			return errors.Errorf("webhook signature: timestamp outside %s tolerance", tolerance)
		}
	}

	given, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return errors.Wrap(err, "webhook signature: invalid base64")
	}

	expected := SignWebhook(secret, timestamp, body)
	if subtle.ConstantTimeCompare(expected, given) != 1 {
		return errors.New("webhook signature: mismatch")
	}
	return nil
}

// SignWebhook computes the raw HMAC for a timestamp and body.
func SignWebhook(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return mac.Sum(nil)
}
