// Package orders holds the order model shared by the gateway core: the
// status lifecycle, the wire representation pushed to subscribers, and the
// database-backed order repository.
package orders

import (
	"fmt"
	"time"
)

// Status is an order's position in its payment lifecycle. The numeric values
// are part of the external contract (callback params, wire JSON) and must not
// be reordered.
type Status int

const (
	StatusNew Status = iota
	StatusUnconfirmed
	StatusPaid
	StatusUnderpaid
	StatusOverpaid
	StatusExpired
)

// AllStatuses lists every status in numeric order.
func AllStatuses() []Status {
	return []Status{
		StatusNew, StatusUnconfirmed, StatusPaid,
		StatusUnderpaid, StatusOverpaid, StatusExpired,
	}
}

var statusNames = map[Status]string{
	StatusNew:         "new",
	StatusUnconfirmed: "unconfirmed",
	StatusPaid:        "paid",
	StatusUnderpaid:   "underpaid",
	StatusOverpaid:    "overpaid",
	StatusExpired:     "expired",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the six known statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Open reports whether an order in this status still accepts live
// subscriptions. Anything past unconfirmed is final for push purposes.
func (s Status) Open() bool {
	return s == StatusNew || s == StatusUnconfirmed
}

// ParseStatus maps a status name back to its value.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", name)
}

// CallbackResponse is the last response recorded from the gateway's callback
// endpoint, persisted onto the order.
type CallbackResponse struct {
	Code string `json:"code"`
	Body string `json:"body"`
}

// Order is the record the gateway core reads and writes. Amount is always in
// satoshis. The callback response columns are internal bookkeeping and stay
// out of the wire JSON.
type Order struct {
	ID         uint64 `gorm:"primaryKey" json:"id"`
	UID        string `gorm:"uniqueIndex;size:36" json:"uid"`
	GatewayID  uint64 `gorm:"index" json:"gateway_id"`
	Amount     int64  `json:"amount"`
	Currency   string `gorm:"size:8" json:"currency,omitempty"`
	KeychainID uint64 `json:"keychain_id"`
	Address    string `gorm:"size:128" json:"address"`
	Status     Status `gorm:"index" json:"status"`
	Data       string `json:"data,omitempty"`
	TID        string `gorm:"column:tid;size:128" json:"tid,omitempty"`

	CallbackCode string `gorm:"size:8" json:"-"`
	CallbackBody string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

func (Order) TableName() string { return "orders" }

// CallbackResponse returns the last recorded callback response, or false if
// no callback has been attempted yet.
func (o *Order) CallbackResponse() (CallbackResponse, bool) {
	if o.CallbackCode == "" && o.CallbackBody == "" {
		return CallbackResponse{}, false
	}
	return CallbackResponse{Code: o.CallbackCode, Body: o.CallbackBody}, true
}

// SetCallbackResponse records the outcome of the latest callback attempt.
func (o *Order) SetCallbackResponse(code, body string) {
	o.CallbackCode = code
	o.CallbackBody = body
}

// Spec carries the inputs the gateway facade hands to the order builder.
// Amount is already converted to satoshis; BTCDenomination records whether
// the client supplied the amount in base units directly.
type Spec struct {
	GatewayID       uint64
	Amount          int64
	KeychainID      uint64
	Currency        string
	BTCDenomination bool
	Address         string
	Data            string
}
