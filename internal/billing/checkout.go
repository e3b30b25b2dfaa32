package billing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"harmonia/internal/database"
	"harmonia/pkg/models"
)

// Service drives the user-facing billing flows: opening hosted checkout and
// portal sessions, and answering entitlement queries.
type Service struct {
	db              *database.Database
	processor       Processor
	siteURL         string
	successPath     string
	cancelPath      string
	allowPromoCodes bool
	logger          *logrus.Logger
}

// NewService wires the billing service. siteURL must carry a trailing slash.
func NewService(db *database.Database, processor Processor, siteURL, successPath, cancelPath string, allowPromoCodes bool, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		db:              db,
		processor:       processor,
		siteURL:         siteURL,
		successPath:     successPath,
		cancelPath:      cancelPath,
		allowPromoCodes: allowPromoCodes,
		logger:          logger,
	}
}

// createOrRetrieveCustomer returns the processor customer id for a user,
// registering one on first use so the webhook reconciler can map events back
// to the user.
func (s *Service) createOrRetrieveCustomer(userID, email string) (string, error) {
	customerID, err := s.db.GetStripeCustomerID(userID)
	if err == nil {
		return customerID, nil
	}

	customerID, err = s.processor.CreateCustomer(email, userID)
	if err != nil {
		return "", err
	}
	if err := s.db.InsertCustomer(userID, customerID); err != nil {
		return "", fmt.Errorf("failed to record customer mapping: %w", err)
	}
	return customerID, nil
}

// OpenCheckoutSession starts a hosted subscription checkout for the given
// price and returns the checkout session id. Quantity defaults to one.
func (s *Service) OpenCheckoutSession(userID, email string, price models.Price, quantity int64, metadata map[string]string) (string, error) {
	customerID, err := s.createOrRetrieveCustomer(userID, email)
	if err != nil {
		return "", err
	}

	if quantity <= 0 {
		quantity = 1
	}

	sessionID, err := s.processor.NewCheckoutSession(CheckoutParams{
		CustomerID:      customerID,
		PriceID:         price.ID,
		Quantity:        quantity,
		TrialPeriodDays: price.TrialPeriodDays,
		Metadata:        metadata,
		AllowPromoCodes: s.allowPromoCodes,
		SuccessURL:      s.siteURL + s.successPath,
		CancelURL:       s.siteURL + s.cancelPath,
	})
	if err != nil {
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"price_id": price.ID,
	}).Info("Checkout session opened")
	return sessionID, nil
}

// OpenPortalLink returns a hosted billing portal URL for an existing
// customer.
func (s *Service) OpenPortalLink(userID, email string) (string, error) {
	customerID, err := s.createOrRetrieveCustomer(userID, email)
	if err != nil {
		return "", err
	}
	return s.processor.NewPortalSession(customerID, s.siteURL+"account")
}

// HasActiveSubscription reports whether the user holds a subscription in an
// entitling status.
func (s *Service) HasActiveSubscription(userID string) (bool, error) {
	sub, err := s.db.GetActiveSubscriptionForUser(userID)
	if err != nil {
		if database.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return sub.Status.IsEntitling(), nil
}
