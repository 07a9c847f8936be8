// Package signature implements the gateway's shared-secret authentication
// scheme: HMAC-SHA256 creation signatures, the double-HMAC callback
// signature, and the derived hashed gateway id.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// HMACSHA256Hex computes hex(HMAC-SHA256(secret, message)).
func HMACSHA256Hex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// OrderSignature is the signature a client attaches to an order-creation
// request: HMAC over the order id under the gateway secret.
func OrderSignature(orderID, secret string) string {
	return HMACSHA256Hex(secret, orderID)
}

// CallbackSignature signs the callback the gateway sends once an order's
// status changes. It is HMAC over the creation signature, not the raw id,
// so the two values never collide for the same order.
func CallbackSignature(orderID, secret string) string {
	return HMACSHA256Hex(secret, OrderSignature(orderID, secret))
}

// VerifyCreation compares a client-provided signature against the expected
// creation signature in constant time. Comparison is case-sensitive.
func VerifyCreation(provided, orderID, secret string) bool {
	expected := OrderSignature(orderID, secret)
	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// HashedID derives the externally safe gateway identifier from the numeric id
// and the server-wide secret. Stable for the gateway's lifetime.
func HashedID(globalSecret string, gatewayID uint64) string {
	return HMACSHA256Hex(globalSecret, strconv.FormatUint(gatewayID, 10))
}
