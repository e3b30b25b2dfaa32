package server

import (
	"encoding/json"
	"io"
	"net/http"

	"harmonia/internal/database"
	"harmonia/pkg/models"
)

// maxWebhookBody caps webhook payload reads at 64KB, matching the
// processor's own delivery limit.
const maxWebhookBody = 64 * 1024

// handleGetProducts lists active products with their active prices for the
// subscribe flow.
func (ms *MusicServer) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	products, err := ms.db.GetActiveProductsWithPrices()
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving products", err)
		return
	}

	ms.respondJSON(w, products)
}

// handleGetSubscription reports the caller's entitling subscription, if any.
func (ms *MusicServer) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	session := sessionFromContext(r)

	sub, err := ms.db.GetActiveSubscriptionForUser(session.UserID)
	if err != nil {
		if database.IsNotFound(err) {
			ms.respondJSON(w, map[string]interface{}{"subscribed": false})
			return
		}
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving subscription", err)
		return
	}

	ms.respondJSON(w, map[string]interface{}{
		"subscribed":   true,
		"subscription": sub,
	})
}

// handleCreateCheckoutSession opens a hosted checkout for a price and returns
// the session id for the client to redirect with.
func (ms *MusicServer) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	if ms.billingService == nil {
		ms.respondWithError(w, r, http.StatusServiceUnavailable, "Billing is not configured", nil)
		return
	}
	session := sessionFromContext(r)

	var req struct {
		PriceID  string            `json:"priceId"`
		Quantity int64             `json:"quantity"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.PriceID == "" {
		ms.respondWithError(w, r, http.StatusBadRequest, "priceId is required", nil)
		return
	}

	price, ok := ms.findActivePrice(req.PriceID)
	if !ok {
		ms.respondWithError(w, r, http.StatusNotFound, "Unknown price", nil)
		return
	}

	sessionID, err := ms.billingService.OpenCheckoutSession(session.UserID, session.Email, price, req.Quantity, req.Metadata)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to create checkout session", err)
		return
	}

	ms.respondJSON(w, map[string]string{"sessionId": sessionID})
}

// handleCreatePortalLink returns a billing portal URL for managing the
// caller's subscription.
func (ms *MusicServer) handleCreatePortalLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	if ms.billingService == nil {
		ms.respondWithError(w, r, http.StatusServiceUnavailable, "Billing is not configured", nil)
		return
	}
	session := sessionFromContext(r)

	url, err := ms.billingService.OpenPortalLink(session.UserID, session.Email)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to create portal link", err)
		return
	}

	ms.respondJSON(w, map[string]string{"url": url})
}

// handleStripeWebhook receives processor events. The signature is verified
// before anything touches the database; a bad signature is a 400 with no
// side effects. Processing failures of a recognized event answer 400 and
// leave redelivery to the processor; nothing is retried locally.
func (ms *MusicServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	if ms.reconciler == nil {
		ms.respondWithError(w, r, http.StatusServiceUnavailable, "Billing is not configured", nil)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Failed to read payload", err)
		return
	}

	event, err := ms.reconciler.VerifyAndParse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid webhook signature", err)
		return
	}

	if err := ms.reconciler.HandleEvent(event); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Failed to process event", err)
		return
	}

	ms.respondJSON(w, map[string]bool{"received": true})
}

// findActivePrice looks a price id up among the active products.
func (ms *MusicServer) findActivePrice(priceID string) (price models.Price, ok bool) {
	products, err := ms.db.GetActiveProductsWithPrices()
	if err != nil {
		return price, false
	}
	for _, product := range products {
		for _, p := range product.Prices {
			if p.ID == priceID {
				return p, true
			}
		}
	}
	return price, false
}
