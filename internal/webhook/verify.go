package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrBadSignature is returned when a delivery's signature header is missing,
// malformed, or does not match the payload HMAC.
var ErrBadSignature = errors.New("webhook signature mismatch")

// signaturePrefix is the scheme tag expected on the X-Signature header.
const signaturePrefix = "sha256="

// Sign computes the hex HMAC-SHA256 of payload under secret, in the
// "sha256=<hex>" form carried on the X-Signature header.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery signature against the payload. The comparison is
// constant-time; any parse failure is reported as ErrBadSignature without
// detail so the response does not leak which check failed.
func Verify(secret, header string, payload []byte) error {
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
