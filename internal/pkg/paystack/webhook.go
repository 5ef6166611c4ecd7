package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
)

// SignatureHeader carries the HMAC of a webhook body.
const SignatureHeader = "X-Paystack-Signature"

const EventChargeSuccess = "charge.success"

// Event is a webhook delivery. Only the reference is trusted; the
// transaction itself is always re-fetched with Verify.
type Event struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// VerifySignature checks the HMAC-SHA512 of payload against signature
// (hex) using the secret key.
func VerifySignature(payload []byte, signature, secretKey string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hmac.Equal(given, mac.Sum(nil))
}

// Sign computes the signature Paystack would send. Used by tests and
// local webhook replays.
func Sign(payload []byte, secretKey string) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
