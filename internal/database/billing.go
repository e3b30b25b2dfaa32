package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"harmonia/pkg/models"

	"github.com/sirupsen/logrus"
)

// The billing tables (products, prices, subscriptions, customers and the
// billing columns on users) are written exclusively by the webhook
// reconciliation path. All upserts are keyed by primary identifier with
// full-row overwrite semantics: the processor sends complete state snapshots,
// so the latest event simply wins.

// UpsertProduct inserts or fully overwrites a product row.
func (db *Database) UpsertProduct(product models.Product) error {
	metadata, err := encodeMetadata(product.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode product metadata: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO products (id, active, name, description, image, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active = excluded.active,
			name = excluded.name,
			description = excluded.description,
			image = excluded.image,
			metadata = excluded.metadata`,
		product.ID, product.Active, product.Name,
		product.Description, product.Image, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.ID, err)
	}

	db.logger.WithField("product_id", product.ID).Info("Product inserted/updated")
	return nil
}

// UpsertPrice inserts or fully overwrites a price row.
func (db *Database) UpsertPrice(price models.Price) error {
	metadata, err := encodeMetadata(price.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode price metadata: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO prices (id, product_id, active, currency, description,
			unit_amount, type, interval, interval_count, trial_period_days, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			active = excluded.active,
			currency = excluded.currency,
			description = excluded.description,
			unit_amount = excluded.unit_amount,
			type = excluded.type,
			interval = excluded.interval,
			interval_count = excluded.interval_count,
			trial_period_days = excluded.trial_period_days,
			metadata = excluded.metadata`,
		price.ID, price.ProductID, price.Active, price.Currency, price.Description,
		price.UnitAmount, price.Type, price.Interval, price.IntervalCount,
		price.TrialPeriodDays, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price %s: %w", price.ID, err)
	}

	db.logger.WithField("price_id", price.ID).Info("Price inserted/updated")
	return nil
}

// UpsertSubscription inserts or fully overwrites a subscription row.
func (db *Database) UpsertSubscription(sub models.Subscription) error {
	metadata, err := encodeMetadata(sub.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode subscription metadata: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO subscriptions (id, user_id, status, metadata, price_id, quantity,
			cancel_at_period_end, cancel_at, canceled_at, current_period_start,
			current_period_end, created, ended_at, trial_start, trial_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			status = excluded.status,
			metadata = excluded.metadata,
			price_id = excluded.price_id,
			quantity = excluded.quantity,
			cancel_at_period_end = excluded.cancel_at_period_end,
			cancel_at = excluded.cancel_at,
			canceled_at = excluded.canceled_at,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			created = excluded.created,
			ended_at = excluded.ended_at,
			trial_start = excluded.trial_start,
			trial_end = excluded.trial_end`,
		sub.ID, sub.UserID, string(sub.Status), metadata, sub.PriceID, sub.Quantity,
		sub.CancelAtPeriodEnd, sub.CancelAt, sub.CanceledAt, sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd, sub.Created, sub.EndedAt, sub.TrialStart, sub.TrialEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription %s: %w", sub.ID, err)
	}

	db.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"user_id":         sub.UserID,
		"status":          sub.Status,
	}).Info("Subscription inserted/updated")
	return nil
}

// IsNotFound reports whether an error from this package means the row does
// not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// GetSubscription retrieves a subscription row by its identifier.
func (db *Database) GetSubscription(id string) (models.Subscription, error) {
	row := db.conn.QueryRow(`
		SELECT id, user_id, status, metadata, price_id, quantity,
			cancel_at_period_end, cancel_at, canceled_at, current_period_start,
			current_period_end, created, ended_at, trial_start, trial_end
		FROM subscriptions WHERE id = ?`, id)
	return scanSubscription(row)
}

// GetActiveSubscriptionForUser returns the user's entitling subscription
// (status trialing or active), or sql.ErrNoRows (wrapped) when there is none.
func (db *Database) GetActiveSubscriptionForUser(userID string) (models.Subscription, error) {
	row := db.conn.QueryRow(`
		SELECT id, user_id, status, metadata, price_id, quantity,
			cancel_at_period_end, cancel_at, canceled_at, current_period_start,
			current_period_end, created, ended_at, trial_start, trial_end
		FROM subscriptions
		WHERE user_id = ? AND status IN ('trialing', 'active')
		ORDER BY created DESC LIMIT 1`, userID)
	return scanSubscription(row)
}

// CountSubscriptions returns the number of subscription rows with the given id.
func (db *Database) CountSubscriptions(id string) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return count, nil
}

func scanSubscription(row *sql.Row) (models.Subscription, error) {
	var sub models.Subscription
	var status, metadata string
	err := row.Scan(
		&sub.ID, &sub.UserID, &status, &metadata, &sub.PriceID, &sub.Quantity,
		&sub.CancelAtPeriodEnd, &sub.CancelAt, &sub.CanceledAt, &sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd, &sub.Created, &sub.EndedAt, &sub.TrialStart, &sub.TrialEnd,
	)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("failed to scan subscription: %w", err)
	}
	sub.Status = models.SubscriptionStatus(status)
	if sub.Metadata, err = decodeMetadata(metadata); err != nil {
		return models.Subscription{}, err
	}
	return sub, nil
}

// GetActiveProductsWithPrices returns every active product with its active
// recurring prices attached, prices ordered by unit amount ascending. Used by
// the subscribe flow.
func (db *Database) GetActiveProductsWithPrices() ([]models.Product, error) {
	rows, err := db.conn.Query(`
		SELECT p.id, p.active, p.name, p.description, p.image, p.metadata,
			pr.id, pr.product_id, pr.active, pr.currency, pr.description,
			pr.unit_amount, pr.type, pr.interval, pr.interval_count,
			pr.trial_period_days, pr.metadata
		FROM products p
		LEFT JOIN prices pr ON pr.product_id = p.id AND pr.active = TRUE
		WHERE p.active = TRUE
		ORDER BY pr.unit_amount ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products with prices: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.Product)
	var order []string
	for rows.Next() {
		var (
			product            models.Product
			name, pdesc, image sql.NullString
			productMeta        string
			priceID, priceProd sql.NullString
			priceActive        sql.NullBool
			currency, desc     sql.NullString
			unitAmount         sql.NullInt64
			priceType          sql.NullString
			interval           sql.NullString
			intervalCount      sql.NullInt64
			trialDays          sql.NullInt64
			priceMeta          sql.NullString
		)
		if err := rows.Scan(
			&product.ID, &product.Active, &name, &pdesc, &image, &productMeta,
			&priceID, &priceProd, &priceActive, &currency, &desc,
			&unitAmount, &priceType, &interval, &intervalCount, &trialDays, &priceMeta,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}

		product.Name = name.String
		product.Description = pdesc.String
		product.Image = image.String

		existing, ok := byID[product.ID]
		if !ok {
			if product.Metadata, err = decodeMetadata(productMeta); err != nil {
				return nil, err
			}
			byID[product.ID] = &product
			order = append(order, product.ID)
			existing = &product
		}

		if priceID.Valid {
			price := models.Price{
				ID:              priceID.String,
				ProductID:       priceProd.String,
				Active:          priceActive.Bool,
				Currency:        currency.String,
				Description:     desc.String,
				UnitAmount:      unitAmount.Int64,
				Type:            priceType.String,
				Interval:        interval.String,
				IntervalCount:   intervalCount.Int64,
				TrialPeriodDays: trialDays.Int64,
			}
			if price.Metadata, err = decodeMetadata(priceMeta.String); err != nil {
				return nil, err
			}
			existing.Prices = append(existing.Prices, price)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	products := make([]models.Product, 0, len(order))
	for _, id := range order {
		products = append(products, *byID[id])
	}
	return products, nil
}

// InsertCustomer records the mapping from an application user to their
// processor customer id.
func (db *Database) InsertCustomer(userID, stripeCustomerID string) error {
	_, err := db.conn.Exec(`
		INSERT INTO customers (id, stripe_customer_id) VALUES (?, ?)`,
		userID, stripeCustomerID)
	if err != nil {
		return fmt.Errorf("failed to insert customer mapping for %s: %w", userID, err)
	}
	return nil
}

// GetStripeCustomerID returns the processor customer id for a user, or
// sql.ErrNoRows (wrapped) when no mapping exists.
func (db *Database) GetStripeCustomerID(userID string) (string, error) {
	var stripeID string
	err := db.conn.QueryRow(`
		SELECT stripe_customer_id FROM customers WHERE id = ?`, userID).Scan(&stripeID)
	if err != nil {
		return "", fmt.Errorf("failed to get customer mapping for user %s: %w", userID, err)
	}
	return stripeID, nil
}

// GetUserIDByStripeCustomerID resolves the owning user for a processor
// customer id, or sql.ErrNoRows (wrapped) when no mapping exists.
func (db *Database) GetUserIDByStripeCustomerID(stripeCustomerID string) (string, error) {
	var userID string
	err := db.conn.QueryRow(`
		SELECT id FROM customers WHERE stripe_customer_id = ?`, stripeCustomerID).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer %s: %w", stripeCustomerID, err)
	}
	return userID, nil
}

// EnsureUserDetails creates an empty profile row for a user if none exists.
func (db *Database) EnsureUserDetails(userID, fullName string) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO users (id, full_name) VALUES (?, ?)`, userID, fullName)
	if err != nil {
		return fmt.Errorf("failed to ensure user details for %s: %w", userID, err)
	}
	return nil
}

// GetUserDetails retrieves a user's profile row.
func (db *Database) GetUserDetails(userID string) (models.UserDetails, error) {
	var details models.UserDetails
	var fullName, avatarURL, billingAddress, paymentMethod sql.NullString
	err := db.conn.QueryRow(`
		SELECT id, full_name, avatar_url, billing_address, payment_method
		FROM users WHERE id = ?`, userID).Scan(
		&details.ID, &fullName, &avatarURL, &billingAddress, &paymentMethod)
	if err != nil {
		return models.UserDetails{}, fmt.Errorf("failed to get user details for %s: %w", userID, err)
	}
	details.FullName = fullName.String
	details.AvatarURL = avatarURL.String
	if billingAddress.Valid {
		details.BillingAddress = json.RawMessage(billingAddress.String)
	}
	if paymentMethod.Valid {
		details.PaymentMethod = json.RawMessage(paymentMethod.String)
	}
	return details, nil
}

// UpdateUserBillingDetails writes the billing address and payment method JSON
// blobs onto the user's profile row.
func (db *Database) UpdateUserBillingDetails(userID string, billingAddress, paymentMethod []byte) error {
	_, err := db.conn.Exec(`
		UPDATE users SET billing_address = ?, payment_method = ? WHERE id = ?`,
		string(billingAddress), string(paymentMethod), userID)
	if err != nil {
		return fmt.Errorf("failed to update billing details for %s: %w", userID, err)
	}
	return nil
}

// encodeMetadata serializes a processor metadata map to its JSON column form.
func encodeMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeMetadata parses a metadata JSON column. Empty columns decode to nil.
func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}
