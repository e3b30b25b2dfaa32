package server

import (
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"harmonia/internal/auth"
	"harmonia/internal/config"
	"harmonia/internal/database"
	"harmonia/pkg/models"
)

// newTestServer builds a MusicServer backed by a scratch database and storage
// root. With billing enabled the processor credentials come from fake env
// values; nothing in these tests talks to the payment API.
func newTestServer(t *testing.T, billingEnabled bool) *MusicServer {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.SiteURL = "http://localhost:8080/"
	cfg.Database.Path = filepath.Join(dir, "test.db")
	cfg.Storage.Root = filepath.Join(dir, "storage")
	cfg.Storage.WatchSongsBucket = false
	cfg.Auth.UsersFilePath = filepath.Join(dir, "users.toml")
	cfg.Billing.Enabled = billingEnabled
	cfg.Ngrok.Enabled = false

	if billingEnabled {
		t.Setenv("STRIPE_SECRET_KEY", "sk_test_offline")
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test_secret")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ms, err := NewMusicServer(cfg, db, logger)
	if err != nil {
		t.Fatalf("Failed to create music server: %v", err)
	}
	return ms
}

// loginTestUser registers a fresh account and returns its session cookie.
func loginTestUser(t *testing.T, ms *MusicServer) (*auth.Session, *http.Cookie) {
	t.Helper()

	username := "user-" + uuid.New().String()[:8]
	if _, err := ms.authService.Register(username, username+"@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("Failed to register test user: %v", err)
	}

	session, err := ms.authService.Login(username, "correct-horse-battery")
	if err != nil {
		t.Fatalf("Failed to log in test user: %v", err)
	}

	return session, &http.Cookie{Name: "harmonia_session", Value: session.ID}
}

// seedSong inserts a catalog row pointing at a (nonexistent) audio object.
func seedSong(t *testing.T, ms *MusicServer, title string) models.Song {
	t.Helper()

	song := models.Song{
		ID:       uuid.New().String(),
		Title:    title,
		Author:   "Test Artist",
		Duration: 180,
	}
	song.SongPath = song.ID + ".mp3"

	if err := ms.db.InsertSong(song); err != nil {
		t.Fatalf("Failed to seed song: %v", err)
	}
	return song
}
