package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"

	"harmonia/internal/database"
	"harmonia/pkg/models"
)

const testWebhookSecret = "whsec_test_secret"

type fakeProcessor struct {
	subscriptions  map[string]*stripe.Subscription
	retrieveCalls  []string
	billingUpdates []string
	customerSeq    int
	lastCheckout   CheckoutParams
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{subscriptions: make(map[string]*stripe.Subscription)}
}

func (f *fakeProcessor) RetrieveSubscription(id string) (*stripe.Subscription, error) {
	f.retrieveCalls = append(f.retrieveCalls, id)
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *fakeProcessor) CreateCustomer(email, userID string) (string, error) {
	f.customerSeq++
	return fmt.Sprintf("cus_fake_%d", f.customerSeq), nil
}

func (f *fakeProcessor) UpdateCustomerBilling(customerID string, details *stripe.PaymentMethodBillingDetails) error {
	f.billingUpdates = append(f.billingUpdates, customerID)
	return nil
}

func (f *fakeProcessor) NewCheckoutSession(params CheckoutParams) (string, error) {
	f.lastCheckout = params
	return "cs_fake_123", nil
}

func (f *fakeProcessor) NewPortalSession(customerID, returnURL string) (string, error) {
	return "https://billing.example.com/portal/" + customerID, nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *database.Database, *fakeProcessor) {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	processor := newFakeProcessor()
	return NewReconciler(db, processor, testWebhookSecret, nil), db, processor
}

func activeSubscription(id string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                 id,
		Status:             stripe.SubscriptionStatusActive,
		Created:            1700000000,
		CurrentPeriodStart: 1700000000,
		CurrentPeriodEnd:   1702592000,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_basic"}, Quantity: 1},
			},
		},
	}
}

func subscriptionEvent(eventType, subID, customerID string) stripe.Event {
	raw, _ := json.Marshal(map[string]interface{}{
		"id":       subID,
		"customer": customerID,
	})
	return stripe.Event{
		ID:   "evt_" + subID,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

// signPayload produces a signature header the way the processor signs
// webhook deliveries.
func signPayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAndParse(t *testing.T) {
	reconciler, _, _ := newTestReconciler(t)
	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","api_version":%q,"type":"product.created","data":{"object":{"id":"prod_1"}}}`,
		stripe.APIVersion,
	))

	t.Run("valid signature parses the event", func(t *testing.T) {
		header := signPayload(testWebhookSecret, time.Now().Unix(), payload)
		event, err := reconciler.VerifyAndParse(payload, header)
		if err != nil {
			t.Fatalf("VerifyAndParse() error = %v", err)
		}
		if event.ID != "evt_1" {
			t.Errorf("event id = %q, want evt_1", event.ID)
		}
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		header := signPayload("whsec_wrong", time.Now().Unix(), payload)
		if _, err := reconciler.VerifyAndParse(payload, header); err == nil {
			t.Error("expected an error for a mismatched secret")
		}
	})

	t.Run("tampered payload is rejected", func(t *testing.T) {
		header := signPayload(testWebhookSecret, time.Now().Unix(), payload)
		tampered := append([]byte(nil), payload...)
		tampered[len(tampered)-2] = 'x'
		if _, err := reconciler.VerifyAndParse(tampered, header); err == nil {
			t.Error("expected an error for a tampered payload")
		}
	})
}

func TestHandleEventUnhandledType(t *testing.T) {
	reconciler, _, _ := newTestReconciler(t)

	err := reconciler.HandleEvent(stripe.Event{
		Type: "invoice.paid",
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	})
	if !errors.Is(err, ErrUnhandledEvent) {
		t.Errorf("HandleEvent() error = %v, want ErrUnhandledEvent", err)
	}
}

func TestProductAndPriceEvents(t *testing.T) {
	reconciler, db, _ := newTestReconciler(t)

	productRaw, _ := json.Marshal(map[string]interface{}{
		"id":          "prod_1",
		"active":      true,
		"name":        "Premium",
		"description": "Ad-free listening",
		"images":      []string{"https://example.com/premium.png"},
	})
	err := reconciler.HandleEvent(stripe.Event{
		Type: "product.created",
		Data: &stripe.EventData{Raw: productRaw},
	})
	if err != nil {
		t.Fatalf("product event failed: %v", err)
	}

	priceRaw, _ := json.Marshal(map[string]interface{}{
		"id":          "price_1",
		"active":      true,
		"currency":    "usd",
		"unit_amount": 999,
		"type":        "recurring",
		"product":     "prod_1",
		"recurring":   map[string]interface{}{"interval": "month", "interval_count": 1},
	})
	err = reconciler.HandleEvent(stripe.Event{
		Type: "price.created",
		Data: &stripe.EventData{Raw: priceRaw},
	})
	if err != nil {
		t.Fatalf("price event failed: %v", err)
	}

	products, err := db.GetActiveProductsWithPrices()
	if err != nil {
		t.Fatalf("GetActiveProductsWithPrices() error = %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	product := products[0]
	if product.Name != "Premium" || product.Image != "https://example.com/premium.png" {
		t.Errorf("unexpected product %+v", product)
	}
	if len(product.Prices) != 1 {
		t.Fatalf("got %d prices, want 1", len(product.Prices))
	}
	price := product.Prices[0]
	if price.UnitAmount != 999 || price.Interval != "month" {
		t.Errorf("unexpected price %+v", price)
	}
}

// A replayed event must converge on the same row, not duplicate it.
func TestSubscriptionEventIdempotent(t *testing.T) {
	reconciler, db, processor := newTestReconciler(t)
	if err := db.InsertCustomer("user-1", "cus_1"); err != nil {
		t.Fatal(err)
	}
	processor.subscriptions["sub_1"] = activeSubscription("sub_1")

	event := subscriptionEvent("customer.subscription.updated", "sub_1", "cus_1")
	for i := 0; i < 3; i++ {
		if err := reconciler.HandleEvent(event); err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	count, err := db.CountSubscriptions("sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("got %d subscription rows, want 1", count)
	}
}

func TestSubscriptionEventUnknownCustomerFails(t *testing.T) {
	reconciler, db, processor := newTestReconciler(t)
	processor.subscriptions["sub_1"] = activeSubscription("sub_1")

	event := subscriptionEvent("customer.subscription.created", "sub_1", "cus_unknown")
	if err := reconciler.HandleEvent(event); err == nil {
		t.Fatal("expected an error for an unmapped customer")
	}

	// Nothing may be persisted, and the processor must not be consulted.
	if count, _ := db.CountSubscriptions("sub_1"); count != 0 {
		t.Errorf("got %d subscription rows, want 0", count)
	}
	if len(processor.retrieveCalls) != 0 {
		t.Errorf("retrieve was called %d times, want 0", len(processor.retrieveCalls))
	}
}

func TestSubscriptionFieldsMapped(t *testing.T) {
	reconciler, db, processor := newTestReconciler(t)
	if err := db.InsertCustomer("user-1", "cus_1"); err != nil {
		t.Fatal(err)
	}

	sub := activeSubscription("sub_1")
	sub.Status = stripe.SubscriptionStatusTrialing
	sub.TrialStart = 1700000000
	sub.TrialEnd = 1701209600
	sub.CancelAtPeriodEnd = true
	processor.subscriptions["sub_1"] = sub

	event := subscriptionEvent("customer.subscription.created", "sub_1", "cus_1")
	if err := reconciler.HandleEvent(event); err != nil {
		t.Fatal(err)
	}

	stored, err := db.GetSubscription("sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.UserID != "user-1" {
		t.Errorf("user id = %q, want user-1", stored.UserID)
	}
	if stored.Status != models.SubscriptionStatusTrialing {
		t.Errorf("status = %q, want trialing", stored.Status)
	}
	if stored.PriceID != "price_basic" {
		t.Errorf("price id = %q, want price_basic", stored.PriceID)
	}
	if stored.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", stored.Quantity)
	}
	if !stored.CancelAtPeriodEnd {
		t.Error("cancel_at_period_end not persisted")
	}
	if stored.Created != "2023-11-14T22:13:20Z" {
		t.Errorf("created = %q, want 2023-11-14T22:13:20Z", stored.Created)
	}
	if stored.TrialEnd == nil || *stored.TrialEnd != "2023-11-28T22:13:20Z" {
		t.Errorf("trial end = %v, want 2023-11-28T22:13:20Z", stored.TrialEnd)
	}
	if stored.EndedAt != nil {
		t.Errorf("ended at = %v, want nil", stored.EndedAt)
	}
}

func TestBillingDetailsCopiedOnCreationOnly(t *testing.T) {
	fullMethod := &stripe.PaymentMethod{
		Type: stripe.PaymentMethodTypeCard,
		Card: &stripe.PaymentMethodCard{Brand: "visa", Last4: "4242"},
		BillingDetails: &stripe.PaymentMethodBillingDetails{
			Name:    "Ada Lovelace",
			Phone:   "+1555000",
			Address: &stripe.Address{Line1: "1 Analytical Way", City: "London", Country: "GB"},
		},
	}
	partialMethod := &stripe.PaymentMethod{
		Type: stripe.PaymentMethodTypeCard,
		BillingDetails: &stripe.PaymentMethodBillingDetails{
			Name: "Ada Lovelace",
		},
	}

	tests := []struct {
		name       string
		eventType  string
		method     *stripe.PaymentMethod
		wantCopied bool
	}{
		{
			name:       "creation with complete details copies them",
			eventType:  "customer.subscription.created",
			method:     fullMethod,
			wantCopied: true,
		},
		{
			name:      "creation with partial details skips the copy",
			eventType: "customer.subscription.created",
			method:    partialMethod,
		},
		{
			name:      "update never copies",
			eventType: "customer.subscription.updated",
			method:    fullMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reconciler, db, processor := newTestReconciler(t)
			if err := db.InsertCustomer("user-1", "cus_1"); err != nil {
				t.Fatal(err)
			}
			if err := db.EnsureUserDetails("user-1", "Ada Lovelace"); err != nil {
				t.Fatal(err)
			}

			sub := activeSubscription("sub_1")
			sub.DefaultPaymentMethod = tt.method
			processor.subscriptions["sub_1"] = sub

			event := subscriptionEvent(tt.eventType, "sub_1", "cus_1")
			if err := reconciler.HandleEvent(event); err != nil {
				t.Fatal(err)
			}

			details, err := db.GetUserDetails("user-1")
			if err != nil {
				t.Fatal(err)
			}
			copied := len(details.BillingAddress) > 0
			if copied != tt.wantCopied {
				t.Errorf("billing address copied = %v, want %v", copied, tt.wantCopied)
			}
			if updated := len(processor.billingUpdates) > 0; updated != tt.wantCopied {
				t.Errorf("customer billing updated = %v, want %v", updated, tt.wantCopied)
			}
		})
	}
}

func TestCheckoutSessionCompleted(t *testing.T) {
	reconciler, db, processor := newTestReconciler(t)
	if err := db.InsertCustomer("user-1", "cus_1"); err != nil {
		t.Fatal(err)
	}
	processor.subscriptions["sub_1"] = activeSubscription("sub_1")

	t.Run("subscription mode reconciles the subscription", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]interface{}{
			"id":           "cs_1",
			"mode":         "subscription",
			"customer":     "cus_1",
			"subscription": "sub_1",
		})
		err := reconciler.HandleEvent(stripe.Event{
			Type: "checkout.session.completed",
			Data: &stripe.EventData{Raw: raw},
		})
		if err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
		if count, _ := db.CountSubscriptions("sub_1"); count != 1 {
			t.Errorf("got %d subscription rows, want 1", count)
		}
	})

	t.Run("payment mode is acknowledged without work", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]interface{}{
			"id":   "cs_2",
			"mode": "payment",
		})
		err := reconciler.HandleEvent(stripe.Event{
			Type: "checkout.session.completed",
			Data: &stripe.EventData{Raw: raw},
		})
		if err != nil {
			t.Errorf("HandleEvent() error = %v, want nil", err)
		}
	})
}
