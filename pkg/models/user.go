package models

import "encoding/json"

// UserDetails is the persisted profile row for a user. Credentials live in the
// auth store; this row carries display and billing data. BillingAddress and
// PaymentMethod hold processor-shaped JSON written by the webhook reconciler.
type UserDetails struct {
	ID             string          `json:"id"`
	FullName       string          `json:"fullName,omitempty"`
	AvatarURL      string          `json:"avatarUrl,omitempty"`
	BillingAddress json.RawMessage `json:"billingAddress,omitempty"`
	PaymentMethod  json.RawMessage `json:"paymentMethod,omitempty"`
}
