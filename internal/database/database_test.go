package database

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"harmonia/pkg/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSong(title, userID string) models.Song {
	id := uuid.New().String()
	return models.Song{
		ID:       id,
		UserID:   userID,
		Title:    title,
		Author:   "Test Artist",
		SongPath: id + ".mp3",
		Duration: 180,
	}
}

func TestSongCatalog(t *testing.T) {
	db := newTestDatabase(t)

	song := testSong("Midnight Drive", "user-1")
	if err := db.InsertSong(song); err != nil {
		t.Fatalf("Failed to insert song: %v", err)
	}

	t.Run("GetSongByID", func(t *testing.T) {
		got, err := db.GetSongByID(song.ID)
		if err != nil {
			t.Fatalf("Failed to get song: %v", err)
		}
		if got.Title != song.Title || got.Author != song.Author {
			t.Errorf("Expected %s by %s, got %s by %s", song.Title, song.Author, got.Title, got.Author)
		}
		if got.SongPath != song.SongPath {
			t.Errorf("Expected song path %s, got %s", song.SongPath, got.SongPath)
		}
	})

	t.Run("GetAllSongs", func(t *testing.T) {
		songs, err := db.GetAllSongs()
		if err != nil {
			t.Fatalf("Failed to list songs: %v", err)
		}
		if len(songs) != 1 {
			t.Errorf("Expected 1 song, got %d", len(songs))
		}
	})

	t.Run("SearchSongsByTitle", func(t *testing.T) {
		songs, err := db.SearchSongsByTitle("midnight")
		if err != nil {
			t.Fatalf("Failed to search songs: %v", err)
		}
		if len(songs) != 1 {
			t.Errorf("Expected case-insensitive match, got %d results", len(songs))
		}

		songs, err = db.SearchSongsByTitle("no such song")
		if err != nil {
			t.Fatalf("Failed to search songs: %v", err)
		}
		if len(songs) != 0 {
			t.Errorf("Expected no matches, got %d", len(songs))
		}
	})

	t.Run("GetSongsByUserID", func(t *testing.T) {
		other := testSong("Someone Else's", "user-2")
		if err := db.InsertSong(other); err != nil {
			t.Fatalf("Failed to insert song: %v", err)
		}

		songs, err := db.GetSongsByUserID("user-1")
		if err != nil {
			t.Fatalf("Failed to get user songs: %v", err)
		}
		if len(songs) != 1 || songs[0].ID != song.ID {
			t.Errorf("Expected only user-1's song, got %+v", songs)
		}
	})

	t.Run("SongExistsByPath", func(t *testing.T) {
		exists, err := db.SongExistsByPath(song.SongPath)
		if err != nil {
			t.Fatalf("Failed to check path: %v", err)
		}
		if !exists {
			t.Error("Expected song path to exist")
		}

		exists, err = db.SongExistsByPath("missing.mp3")
		if err != nil {
			t.Fatalf("Failed to check path: %v", err)
		}
		if exists {
			t.Error("Expected missing path to not exist")
		}
	})

	t.Run("RemoveSongByPath", func(t *testing.T) {
		doomed := testSong("Doomed", "user-1")
		if err := db.InsertSong(doomed); err != nil {
			t.Fatalf("Failed to insert song: %v", err)
		}
		if err := db.RemoveSongByPath(doomed.SongPath); err != nil {
			t.Fatalf("Failed to remove song: %v", err)
		}
		if _, err := db.GetSongByID(doomed.ID); err == nil {
			t.Error("Expected removed song to be gone")
		}
	})
}

func TestLikedSongs(t *testing.T) {
	db := newTestDatabase(t)

	song := testSong("Likeable", "user-1")
	if err := db.InsertSong(song); err != nil {
		t.Fatalf("Failed to insert song: %v", err)
	}

	liked, err := db.IsSongLiked("user-1", song.ID)
	if err != nil {
		t.Fatalf("Failed to check like: %v", err)
	}
	if liked {
		t.Error("Expected song to start unliked")
	}

	if err := db.LikeSong("user-1", song.ID); err != nil {
		t.Fatalf("Failed to like song: %v", err)
	}
	// Liking twice is a no-op, not an error.
	if err := db.LikeSong("user-1", song.ID); err != nil {
		t.Fatalf("Duplicate like should not fail: %v", err)
	}

	songs, err := db.GetLikedSongs("user-1")
	if err != nil {
		t.Fatalf("Failed to get liked songs: %v", err)
	}
	if len(songs) != 1 || songs[0].ID != song.ID {
		t.Errorf("Expected one liked song, got %+v", songs)
	}

	if err := db.UnlikeSong("user-1", song.ID); err != nil {
		t.Fatalf("Failed to unlike song: %v", err)
	}
	liked, err = db.IsSongLiked("user-1", song.ID)
	if err != nil {
		t.Fatalf("Failed to check like: %v", err)
	}
	if liked {
		t.Error("Expected song to be unliked")
	}
}

func TestProductAndPriceUpserts(t *testing.T) {
	db := newTestDatabase(t)

	product := models.Product{
		ID:     "prod_1",
		Active: true,
		Name:   "Premium",
	}
	if err := db.UpsertProduct(product); err != nil {
		t.Fatalf("Failed to upsert product: %v", err)
	}

	price := models.Price{
		ID:         "price_1",
		ProductID:  "prod_1",
		Active:     true,
		Currency:   "usd",
		UnitAmount: 999,
		Type:       "recurring",
		Interval:   "month",
	}
	if err := db.UpsertPrice(price); err != nil {
		t.Fatalf("Failed to upsert price: %v", err)
	}

	// Re-delivery with changed fields overwrites the row.
	product.Name = "Premium Plus"
	if err := db.UpsertProduct(product); err != nil {
		t.Fatalf("Failed to re-upsert product: %v", err)
	}

	products, err := db.GetActiveProductsWithPrices()
	if err != nil {
		t.Fatalf("Failed to list products: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("Expected 1 product, got %d", len(products))
	}
	if products[0].Name != "Premium Plus" {
		t.Errorf("Expected updated name, got %s", products[0].Name)
	}
	if len(products[0].Prices) != 1 || products[0].Prices[0].ID != "price_1" {
		t.Errorf("Expected joined price, got %+v", products[0].Prices)
	}

	// Inactive products drop out of the listing.
	product.Active = false
	if err := db.UpsertProduct(product); err != nil {
		t.Fatalf("Failed to deactivate product: %v", err)
	}
	products, err = db.GetActiveProductsWithPrices()
	if err != nil {
		t.Fatalf("Failed to list products: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("Expected inactive product hidden, got %+v", products)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	db := newTestDatabase(t)

	sub := models.Subscription{
		ID:                 "sub_1",
		UserID:             "user-1",
		Status:             models.SubscriptionStatusActive,
		PriceID:            "price_1",
		Quantity:           1,
		CurrentPeriodStart: "2026-08-01T00:00:00Z",
		CurrentPeriodEnd:   "2026-09-01T00:00:00Z",
		Created:            "2026-08-01T00:00:00Z",
	}
	if err := db.UpsertSubscription(sub); err != nil {
		t.Fatalf("Failed to upsert subscription: %v", err)
	}

	got, err := db.GetActiveSubscriptionForUser("user-1")
	if err != nil {
		t.Fatalf("Failed to get active subscription: %v", err)
	}
	if got.ID != "sub_1" || got.Status != models.SubscriptionStatusActive {
		t.Errorf("Expected active sub_1, got %+v", got)
	}

	// The same event delivered again stays one row.
	if err := db.UpsertSubscription(sub); err != nil {
		t.Fatalf("Failed to re-upsert subscription: %v", err)
	}
	count, err := db.CountSubscriptions("sub_1")
	if err != nil {
		t.Fatalf("Failed to count subscriptions: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row after redelivery, got %d", count)
	}

	// Cancellation removes the entitlement.
	canceledAt := "2026-08-15T00:00:00Z"
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &canceledAt
	sub.EndedAt = &canceledAt
	if err := db.UpsertSubscription(sub); err != nil {
		t.Fatalf("Failed to cancel subscription: %v", err)
	}

	_, err = db.GetActiveSubscriptionForUser("user-1")
	if !IsNotFound(err) {
		t.Errorf("Expected not-found after cancellation, got %v", err)
	}

	got, err = db.GetSubscription("sub_1")
	if err != nil {
		t.Fatalf("Failed to get subscription: %v", err)
	}
	if got.CanceledAt == nil || *got.CanceledAt != canceledAt {
		t.Errorf("Expected canceled_at %s, got %v", canceledAt, got.CanceledAt)
	}
}

func TestCustomerMapping(t *testing.T) {
	db := newTestDatabase(t)

	if err := db.InsertCustomer("user-1", "cus_abc"); err != nil {
		t.Fatalf("Failed to insert customer: %v", err)
	}

	stripeID, err := db.GetStripeCustomerID("user-1")
	if err != nil {
		t.Fatalf("Failed to look up customer: %v", err)
	}
	if stripeID != "cus_abc" {
		t.Errorf("Expected cus_abc, got %s", stripeID)
	}

	userID, err := db.GetUserIDByStripeCustomerID("cus_abc")
	if err != nil {
		t.Fatalf("Failed reverse lookup: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("Expected user-1, got %s", userID)
	}

	if _, err := db.GetUserIDByStripeCustomerID("cus_unknown"); err == nil {
		t.Error("Expected error for unknown processor customer")
	}
}

func TestUserDetails(t *testing.T) {
	db := newTestDatabase(t)

	if err := db.EnsureUserDetails("user-1", "Alice Example"); err != nil {
		t.Fatalf("Failed to create user details: %v", err)
	}
	// Idempotent for existing rows.
	if err := db.EnsureUserDetails("user-1", "Renamed"); err != nil {
		t.Fatalf("EnsureUserDetails should be idempotent: %v", err)
	}

	details, err := db.GetUserDetails("user-1")
	if err != nil {
		t.Fatalf("Failed to get user details: %v", err)
	}
	if details.FullName != "Alice Example" {
		t.Errorf("Expected original name preserved, got %s", details.FullName)
	}

	address := []byte(`{"city":"Lisbon","country":"PT"}`)
	payment := []byte(`{"type":"card","card":{"brand":"visa","last4":"4242"}}`)
	if err := db.UpdateUserBillingDetails("user-1", address, payment); err != nil {
		t.Fatalf("Failed to update billing details: %v", err)
	}

	details, err = db.GetUserDetails("user-1")
	if err != nil {
		t.Fatalf("Failed to get user details: %v", err)
	}
	if string(details.BillingAddress) != string(address) {
		t.Errorf("Expected stored billing address, got %s", details.BillingAddress)
	}
	if string(details.PaymentMethod) != string(payment) {
		t.Errorf("Expected stored payment method, got %s", details.PaymentMethod)
	}
}
