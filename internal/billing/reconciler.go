package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"harmonia/internal/database"
	"harmonia/pkg/models"
)

// ErrUnhandledEvent marks event types the reconciler does not process.
var ErrUnhandledEvent = fmt.Errorf("unhandled event type")

// Reconciler applies processor webhook events to the local billing tables.
// It is the sole write path for products, prices and subscriptions; every
// write is an idempotent upsert keyed by the processor's object id, so a
// replayed event converges on the same row. Failed events are answered with
// an error status and never retried locally; the processor's own redelivery
// is the retry mechanism.
type Reconciler struct {
	db            *database.Database
	processor     Processor
	webhookSecret string
	logger        *logrus.Logger
}

// NewReconciler wires the reconciler to its database, processor client and
// webhook signing secret.
func NewReconciler(db *database.Database, processor Processor, webhookSecret string, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		db:            db,
		processor:     processor,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// VerifyAndParse checks the payload's signature against the webhook secret
// and decodes the event. It must be called before any database work; a
// signature failure means the payload is untrusted and nothing may be
// persisted from it.
func (r *Reconciler) VerifyAndParse(payload []byte, signatureHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, r.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return event, nil
}

// HandleEvent dispatches one verified event to its handler. Unknown event
// types return ErrUnhandledEvent.
func (r *Reconciler) HandleEvent(event stripe.Event) error {
	r.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Info("Processing webhook event")

	switch event.Type {
	case "product.created", "product.updated":
		return r.applyProductEvent(event)
	case "price.created", "price.updated":
		return r.applyPriceEvent(event)
	case "customer.subscription.created":
		return r.applySubscriptionEvent(event, true)
	case "customer.subscription.updated", "customer.subscription.deleted":
		return r.applySubscriptionEvent(event, false)
	case "checkout.session.completed":
		return r.applyCheckoutCompleted(event)
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}
}

func (r *Reconciler) applyProductEvent(event stripe.Event) error {
	var product stripe.Product
	if err := json.Unmarshal(event.Data.Raw, &product); err != nil {
		return fmt.Errorf("failed to decode product event: %w", err)
	}
	return r.db.UpsertProduct(mapProduct(&product))
}

func (r *Reconciler) applyPriceEvent(event stripe.Event) error {
	var price stripe.Price
	if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
		return fmt.Errorf("failed to decode price event: %w", err)
	}
	return r.db.UpsertPrice(mapPrice(&price))
}

func (r *Reconciler) applySubscriptionEvent(event stripe.Event, isCreation bool) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription event: %w", err)
	}
	if sub.Customer == nil {
		return fmt.Errorf("subscription event %s carries no customer", sub.ID)
	}
	return r.reconcileSubscription(sub.ID, sub.Customer.ID, isCreation)
}

// applyCheckoutCompleted handles a finished hosted checkout. Only
// subscription-mode sessions carry a subscription to reconcile; other modes
// are acknowledged without work.
func (r *Reconciler) applyCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to decode checkout session event: %w", err)
	}
	if sess.Mode != stripe.CheckoutSessionModeSubscription {
		return nil
	}
	if sess.Subscription == nil || sess.Customer == nil {
		return fmt.Errorf("completed checkout session %s is missing subscription or customer", sess.ID)
	}
	return r.reconcileSubscription(sess.Subscription.ID, sess.Customer.ID, true)
}

// reconcileSubscription fetches the authoritative subscription state from
// the processor and upserts it. The customer mapping must already exist;
// without it the event fails and is surfaced to the processor for
// redelivery. Billing details are copied onto the user only on creation,
// from a fully populated payment method.
func (r *Reconciler) reconcileSubscription(subscriptionID, customerID string, isCreation bool) error {
	userID, err := r.db.GetUserIDByStripeCustomerID(customerID)
	if err != nil {
		return fmt.Errorf("no customer mapping for %s: %w", customerID, err)
	}

	sub, err := r.processor.RetrieveSubscription(subscriptionID)
	if err != nil {
		return err
	}

	if err := r.db.UpsertSubscription(mapSubscription(sub, userID)); err != nil {
		return err
	}

	if isCreation && sub.DefaultPaymentMethod != nil {
		if err := r.copyBillingDetails(userID, customerID, sub.DefaultPaymentMethod); err != nil {
			return err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"subscription_id": subscriptionID,
		"user_id":         userID,
		"status":          sub.Status,
	}).Info("Subscription reconciled")
	return nil
}

// copyBillingDetails mirrors the payment method's billing details onto the
// processor customer and the local user record. The copy requires name,
// phone and address all present; a partial set is skipped, not an error.
func (r *Reconciler) copyBillingDetails(userID, customerID string, pm *stripe.PaymentMethod) error {
	details := pm.BillingDetails
	if details == nil || details.Name == "" || details.Phone == "" || details.Address == nil {
		r.logger.WithField("user_id", userID).Debug("Payment method billing details incomplete, skipping copy")
		return nil
	}

	if err := r.processor.UpdateCustomerBilling(customerID, details); err != nil {
		return err
	}

	addressJSON, err := json.Marshal(details.Address)
	if err != nil {
		return fmt.Errorf("failed to encode billing address: %w", err)
	}
	methodJSON, err := json.Marshal(paymentMethodSummary(pm))
	if err != nil {
		return fmt.Errorf("failed to encode payment method: %w", err)
	}

	return r.db.UpdateUserBillingDetails(userID, addressJSON, methodJSON)
}

// paymentMethodSummary keeps only the displayable slice of a payment method.
func paymentMethodSummary(pm *stripe.PaymentMethod) map[string]interface{} {
	summary := map[string]interface{}{
		"type": pm.Type,
	}
	if pm.Card != nil {
		summary["card"] = map[string]interface{}{
			"brand":     pm.Card.Brand,
			"last4":     pm.Card.Last4,
			"exp_month": pm.Card.ExpMonth,
			"exp_year":  pm.Card.ExpYear,
		}
	}
	return summary
}

func mapProduct(p *stripe.Product) models.Product {
	product := models.Product{
		ID:          p.ID,
		Active:      p.Active,
		Name:        p.Name,
		Description: p.Description,
		Metadata:    p.Metadata,
	}
	if len(p.Images) > 0 {
		product.Image = p.Images[0]
	}
	return product
}

func mapPrice(p *stripe.Price) models.Price {
	price := models.Price{
		ID:          p.ID,
		Active:      p.Active,
		Currency:    string(p.Currency),
		Description: p.Nickname,
		UnitAmount:  p.UnitAmount,
		Type:        string(p.Type),
		Metadata:    p.Metadata,
	}
	if p.Product != nil {
		price.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		price.Interval = string(p.Recurring.Interval)
		price.IntervalCount = p.Recurring.IntervalCount
		price.TrialPeriodDays = p.Recurring.TrialPeriodDays
	}
	return price
}

func mapSubscription(s *stripe.Subscription, userID string) models.Subscription {
	sub := models.Subscription{
		ID:                 s.ID,
		UserID:             userID,
		Status:             models.SubscriptionStatus(s.Status),
		Metadata:           s.Metadata,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelAt:           isoTimePtr(s.CancelAt),
		CanceledAt:         isoTimePtr(s.CanceledAt),
		CurrentPeriodStart: isoTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   isoTime(s.CurrentPeriodEnd),
		Created:            isoTime(s.Created),
		EndedAt:            isoTimePtr(s.EndedAt),
		TrialStart:         isoTimePtr(s.TrialStart),
		TrialEnd:           isoTimePtr(s.TrialEnd),
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		sub.Quantity = item.Quantity
		if item.Price != nil {
			sub.PriceID = item.Price.ID
		}
	}
	return sub
}

// isoTime converts processor epoch seconds to an ISO 8601 UTC string.
func isoTime(secs int64) string {
	return time.Unix(secs, 0).UTC().Format(time.RFC3339)
}

// isoTimePtr is isoTime for optional timestamps; zero means unset.
func isoTimePtr(secs int64) *string {
	if secs == 0 {
		return nil
	}
	s := isoTime(secs)
	return &s
}
