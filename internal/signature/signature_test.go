package signature

import (
	"strings"
	"testing"
)

func TestHMACSHA256Hex_KnownVector(t *testing.T) {
	// RFC-published test vector for HMAC-SHA256.
	got := HMACSHA256Hex("key", "The quick brown fox jumps over the lazy dog")
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("HMACSHA256Hex = %s, want %s", got, want)
	}
}

func TestOrderSignature(t *testing.T) {
	tests := []struct {
		name    string
		orderID string
		secret  string
		want    string
	}{
		{
			name:    "typical order",
			orderID: "order-123",
			secret:  "gateway-secret",
			want:    "7c40385f173d0fe9c42d83e9d95fa352a1ba0133b4b0fee1bdd9938f9967e9ed",
		},
		{
			name:    "empty order id",
			orderID: "",
			secret:  "s",
			want:    "64eca07cce67929c357d63d0a4aec207e774800403298914fc04e88ce02ac49f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OrderSignature(tt.orderID, tt.secret); got != tt.want {
				t.Errorf("OrderSignature(%q, %q) = %s, want %s", tt.orderID, tt.secret, got, tt.want)
			}
		})
	}
}

func TestCallbackSignature_DoubleHMAC(t *testing.T) {
	got := CallbackSignature("order-123", "gateway-secret")
	want := "7e5e8a21d1e10626a375afa0ad553b671d4e6fa48faf90847b1bfb7703a1b65f"
	if got != want {
		t.Errorf("CallbackSignature = %s, want %s", got, want)
	}

	// The callback signature is HMAC over the creation signature, so the two
	// never coincide for the same order.
	if got == OrderSignature("order-123", "gateway-secret") {
		t.Error("callback signature must differ from the creation signature")
	}
	if got != HMACSHA256Hex("gateway-secret", OrderSignature("order-123", "gateway-secret")) {
		t.Error("callback signature is not HMAC over the creation signature")
	}
}

func TestVerifyCreation(t *testing.T) {
	valid := OrderSignature("order-123", "gateway-secret")

	tests := []struct {
		name     string
		provided string
		orderID  string
		secret   string
		want     bool
	}{
		{"valid signature", valid, "order-123", "gateway-secret", true},
		{"wrong secret", valid, "order-123", "other-secret", false},
		{"wrong order id", valid, "order-124", "gateway-secret", false},
		{"uppercased hex rejected", strings.ToUpper(valid), "order-123", "gateway-secret", false},
		{"truncated", valid[:len(valid)-1], "order-123", "gateway-secret", false},
		{"empty provided", "", "order-123", "gateway-secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyCreation(tt.provided, tt.orderID, tt.secret); got != tt.want {
				t.Errorf("VerifyCreation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashedID(t *testing.T) {
	tests := []struct {
		gatewayID uint64
		want      string
	}{
		{1, "b51273067a77f8eac7ac540bef5060e7a8e4f2466c61ee18aff560a86aba920b"},
		{7, "27c98f41589ae83cd5676d684eb83d3c49f1feb0c99e0a8dc47b965ec91760d6"},
	}
	for _, tt := range tests {
		if got := HashedID("global-secret", tt.gatewayID); got != tt.want {
			t.Errorf("HashedID(global-secret, %d) = %s, want %s", tt.gatewayID, got, tt.want)
		}
	}

	// Stable across calls, distinct across ids and secrets.
	if HashedID("global-secret", 1) != HashedID("global-secret", 1) {
		t.Error("HashedID is not deterministic")
	}
	if HashedID("global-secret", 1) == HashedID("global-secret", 2) {
		t.Error("HashedID collides across gateway ids")
	}
	if HashedID("a", 1) == HashedID("b", 1) {
		t.Error("HashedID collides across global secrets")
	}
}
