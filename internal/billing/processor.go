package billing

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	portalsession "github.com/stripe/stripe-go/v78/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/subscription"
)

// CheckoutParams describes a subscription checkout to open for a user.
type CheckoutParams struct {
	CustomerID      string
	PriceID         string
	Quantity        int64
	TrialPeriodDays int64
	Metadata        map[string]string
	AllowPromoCodes bool
	SuccessURL      string
	CancelURL       string
}

// Processor is the slice of the payment processor's API the application
// uses. The live implementation talks to Stripe; tests substitute a fake.
type Processor interface {
	// RetrieveSubscription fetches a subscription with its default payment
	// method expanded inline.
	RetrieveSubscription(id string) (*stripe.Subscription, error)
	// CreateCustomer registers a processor customer tagged with the
	// application user id and returns the processor's customer id.
	CreateCustomer(email, userID string) (string, error)
	// UpdateCustomerBilling copies a payment method's billing details onto
	// the processor customer record.
	UpdateCustomerBilling(customerID string, details *stripe.PaymentMethodBillingDetails) error
	// NewCheckoutSession opens a hosted subscription checkout and returns
	// the session id.
	NewCheckoutSession(params CheckoutParams) (string, error)
	// NewPortalSession opens a hosted billing portal session and returns
	// its URL.
	NewPortalSession(customerID, returnURL string) (string, error)
}

// StripeProcessor is the live Processor backed by the Stripe API.
type StripeProcessor struct {
	logger *logrus.Logger
}

// NewStripeProcessor configures the Stripe client with the secret key.
func NewStripeProcessor(secretKey string, logger *logrus.Logger) *StripeProcessor {
	stripe.Key = secretKey
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StripeProcessor{logger: logger}
}

func (p *StripeProcessor) RetrieveSubscription(id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.AddExpand("default_payment_method")

	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", id, err)
	}
	return sub, nil
}

func (p *StripeProcessor) CreateCustomer(email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.AddMetadata("harmoniaUserID", userID)

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"customer_id": cust.ID,
	}).Info("Stripe customer created")
	return cust.ID, nil
}

func (p *StripeProcessor) UpdateCustomerBilling(customerID string, details *stripe.PaymentMethodBillingDetails) error {
	params := &stripe.CustomerParams{
		Name:  stripe.String(details.Name),
		Phone: stripe.String(details.Phone),
		Address: &stripe.AddressParams{
			City:       stripe.String(details.Address.City),
			Country:    stripe.String(details.Address.Country),
			Line1:      stripe.String(details.Address.Line1),
			Line2:      stripe.String(details.Address.Line2),
			PostalCode: stripe.String(details.Address.PostalCode),
			State:      stripe.String(details.Address.State),
		},
	}

	if _, err := customer.Update(customerID, params); err != nil {
		return fmt.Errorf("failed to update customer %s billing details: %w", customerID, err)
	}
	return nil
}

func (p *StripeProcessor) NewCheckoutSession(cp CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		Customer:                 stripe.String(cp.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(cp.Quantity),
			},
		},
		Mode:                stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		AllowPromotionCodes: stripe.Bool(cp.AllowPromoCodes),
		SuccessURL:          stripe.String(cp.SuccessURL),
		CancelURL:           stripe.String(cp.CancelURL),
	}
	if cp.TrialPeriodDays > 0 || len(cp.Metadata) > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: cp.Metadata,
		}
		if cp.TrialPeriodDays > 0 {
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(cp.TrialPeriodDays)
		}
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.ID, nil
}

func (p *StripeProcessor) NewPortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}
