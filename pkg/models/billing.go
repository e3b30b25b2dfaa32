package models

// SubscriptionStatus is the closed set of subscription states delivered by the
// payment processor.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
)

// IsEntitling reports whether the status grants access to playback.
func (s SubscriptionStatus) IsEntitling() bool {
	return s == SubscriptionStatusTrialing || s == SubscriptionStatusActive
}

// Product mirrors a processor product. The webhook reconciler is the sole
// write path; the application only reads these rows.
type Product struct {
	ID          string            `json:"id"`
	Active      bool              `json:"active"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Image       string            `json:"image,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Prices []Price `json:"prices,omitempty"` // populated by joined queries only
}

// Price mirrors a processor price attached to a product.
type Price struct {
	ID              string            `json:"id"`
	ProductID       string            `json:"productId"`
	Active          bool              `json:"active"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description,omitempty"` // processor nickname
	UnitAmount      int64             `json:"unitAmount"`
	Type            string            `json:"type"` // one_time or recurring
	Interval        string            `json:"interval,omitempty"`
	IntervalCount   int64             `json:"intervalCount,omitempty"`
	TrialPeriodDays int64             `json:"trialPeriodDays,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Subscription mirrors a processor subscription, upserted keyed by ID with
// latest-event-wins semantics. Timestamps are ISO strings converted from the
// processor's epoch seconds; optional ones are nil when unset.
type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId"`
	Status             SubscriptionStatus `json:"status"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
	PriceID            string             `json:"priceId"`
	Quantity           int64              `json:"quantity"`
	CancelAtPeriodEnd  bool               `json:"cancelAtPeriodEnd"`
	CancelAt           *string            `json:"cancelAt,omitempty"`
	CanceledAt         *string            `json:"canceledAt,omitempty"`
	CurrentPeriodStart string             `json:"currentPeriodStart"`
	CurrentPeriodEnd   string             `json:"currentPeriodEnd"`
	Created            string             `json:"created"`
	EndedAt            *string            `json:"endedAt,omitempty"`
	TrialStart         *string            `json:"trialStart,omitempty"`
	TrialEnd           *string            `json:"trialEnd,omitempty"`
}

// Customer maps an application user to their processor customer record.
type Customer struct {
	ID               string `json:"id"` // application user ID
	StripeCustomerID string `json:"stripeCustomerId"`
}
