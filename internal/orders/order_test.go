package orders

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStatusValues(t *testing.T) {
	// The numeric values are part of the external contract.
	tests := []struct {
		status Status
		value  int
		name   string
	}{
		{StatusNew, 0, "new"},
		{StatusUnconfirmed, 1, "unconfirmed"},
		{StatusPaid, 2, "paid"},
		{StatusUnderpaid, 3, "underpaid"},
		{StatusOverpaid, 4, "overpaid"},
		{StatusExpired, 5, "expired"},
	}
	for _, tt := range tests {
		if int(tt.status) != tt.value {
			t.Errorf("%s = %d, want %d", tt.name, int(tt.status), tt.value)
		}
		if tt.status.String() != tt.name {
			t.Errorf("String() = %s, want %s", tt.status.String(), tt.name)
		}
		if !tt.status.Valid() {
			t.Errorf("%s should be valid", tt.name)
		}
	}
	if len(AllStatuses()) != 6 {
		t.Errorf("AllStatuses() has %d entries, want 6", len(AllStatuses()))
	}
}

func TestStatusOpen(t *testing.T) {
	open := map[Status]bool{
		StatusNew:         true,
		StatusUnconfirmed: true,
		StatusPaid:        false,
		StatusUnderpaid:   false,
		StatusOverpaid:    false,
		StatusExpired:     false,
	}
	for s, want := range open {
		if s.Open() != want {
			t.Errorf("%s.Open() = %v, want %v", s, s.Open(), want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses() {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Errorf("ParseStatus(%q): %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("ParseStatus(%q) = %v, want %v", s.String(), parsed, s)
		}
	}
	if _, err := ParseStatus("refunded"); err == nil {
		t.Error("ParseStatus should reject unknown names")
	}
	if Status(42).Valid() {
		t.Error("Status(42) should not be valid")
	}
}

func TestOrderWireJSON(t *testing.T) {
	o := &Order{
		ID:         9,
		UID:        "2b27a8c2-0000-4000-8000-c0ffee000001",
		GatewayID:  1,
		Amount:     500000000,
		Currency:   "USD",
		KeychainID: 3,
		Address:    "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
		Status:     StatusUnconfirmed,
		Data:       "invoice-42",
		TID:        "f4184fc5",
	}
	o.SetCallbackResponse("500", "boom")

	raw, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	body := string(raw)

	for _, field := range []string{`"id":9`, `"status":1`, `"amount":500000000`, `"keychain_id":3`, `"tid":"f4184fc5"`} {
		if !strings.Contains(body, field) {
			t.Errorf("wire JSON missing %s: %s", field, body)
		}
	}
	// Callback bookkeeping never leaks onto the wire.
	for _, hidden := range []string{"callback", "boom", "500\"", "updated_at"} {
		if strings.Contains(body, hidden) {
			t.Errorf("wire JSON leaks %q: %s", hidden, body)
		}
	}
}

func TestCallbackResponseAccessors(t *testing.T) {
	o := &Order{}
	if _, ok := o.CallbackResponse(); ok {
		t.Error("fresh order should report no callback response")
	}
	o.SetCallbackResponse("200", "OK")
	resp, ok := o.CallbackResponse()
	if !ok {
		t.Fatal("callback response should be present after SetCallbackResponse")
	}
	if resp.Code != "200" || resp.Body != "OK" {
		t.Errorf("CallbackResponse = %+v", resp)
	}
}
