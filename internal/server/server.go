package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"harmonia/internal/auth"
	"harmonia/internal/billing"
	"harmonia/internal/cache"
	"harmonia/internal/config"
	"harmonia/internal/database"
	"harmonia/internal/metadata"
	"harmonia/internal/ngrok"
	"harmonia/internal/playback"
	"harmonia/internal/player"
	"harmonia/internal/storage"
)

// MusicServer is the HTTP surface of the application: song catalog, audio
// streaming, per-session playback, and billing. All dependencies are injected
// at construction.
type MusicServer struct {
	config         *config.Config
	db             *database.Database
	store          *storage.Store
	extractor      *metadata.Extractor
	authService    *auth.Service
	playerManager  *player.Manager
	billingService *billing.Service
	reconciler     *billing.Reconciler
	ngrokService   *ngrok.Service
	songCache      *cache.SongCache
	urlCache       *cache.URLCache
	watcher        *bucketWatcher
	logger         *logrus.Logger
	httpServer     *http.Server
}

// NewMusicServer wires a server from its configuration and database.
func NewMusicServer(cfg *config.Config, db *database.Database, logger *logrus.Logger) (*MusicServer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := storage.NewStore(cfg.Storage.Root, cfg.GetSiteURL())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	ms := &MusicServer{
		config:        cfg,
		db:            db,
		store:         store,
		extractor:     metadata.NewExtractor(cfg.Storage.SupportedFormats, logger),
		authService:   authService,
		playerManager: player.NewManager(),
		songCache:     cache.NewSongCache(),
		urlCache:      cache.NewURLCache(),
		logger:        logger,
	}

	if cfg.Billing.Enabled {
		secretKey := os.Getenv("STRIPE_SECRET_KEY")
		webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
		if secretKey == "" || webhookSecret == "" {
			return nil, fmt.Errorf("billing enabled but STRIPE_SECRET_KEY or STRIPE_WEBHOOK_SECRET is not set")
		}
		processor := billing.NewStripeProcessor(secretKey, logger)
		ms.billingService = billing.NewService(
			db, processor, cfg.GetSiteURL(),
			cfg.Billing.SuccessPath, cfg.Billing.CancelPath,
			cfg.Billing.AllowPromotionCodes, logger,
		)
		ms.reconciler = billing.NewReconciler(db, processor, webhookSecret, logger)
	}

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}
	ms.ngrokService = ngrokSvc

	return ms, nil
}

// gateFor builds the admission gate for one request. The prompts translate
// denials into HTTP statuses: 401 asks the client to open its login flow,
// 402 its subscribe flow.
func (ms *MusicServer) gateFor(w http.ResponseWriter) *playback.Gate {
	return playback.NewGate(playback.Prompts{
		LoginRequired: func() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"Authentication required","prompt":"login"}`)
		},
		SubscribeRequired: func() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprint(w, `{"error":"Active subscription required","prompt":"subscribe"}`)
		},
	}, ms.logger)
}

// entitlementFor resolves the caller's standing from their auth session. A
// failed subscription lookup is an error, not a denial; callers surface it
// instead of treating the user as unsubscribed.
func (ms *MusicServer) entitlementFor(session *auth.Session) (playback.Entitlement, error) {
	if session == nil {
		return playback.Entitlement{}, nil
	}

	ent := playback.Entitlement{
		UserID:          session.UserID,
		IsAuthenticated: true,
	}
	if ms.billingService == nil {
		// Without a payment processor every authenticated user is entitled.
		ent.HasActiveSubscription = true
		return ent, nil
	}

	subscribed, err := ms.billingService.HasActiveSubscription(session.UserID)
	if err != nil {
		return ent, fmt.Errorf("checking subscription for %s: %w", session.UserID, err)
	}
	ent.HasActiveSubscription = subscribed
	return ent, nil
}

// ImportSongsBucket walks the songs bucket and indexes files not yet in the
// catalog. Runs at startup so files dropped while the server was down are
// picked up.
func (ms *MusicServer) ImportSongsBucket() error {
	dir := ms.store.BucketDir(storage.BucketSongs)

	imported := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !ms.extractor.IsAudioFile(path) {
			return nil
		}
		if ok, err := ms.importBucketFile(path); err != nil {
			ms.logger.WithError(err).WithField("file_path", path).Error("Failed to import file")
		} else if ok {
			imported++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk songs bucket: %w", err)
	}

	if imported > 0 {
		ms.logger.WithField("count", imported).Info("Imported songs from bucket")
	}
	return nil
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (ms *MusicServer) Start() error {
	if ms.config.Storage.WatchSongsBucket {
		if err := ms.startBucketWatcher(); err != nil {
			ms.logger.WithError(err).Warn("Could not start bucket watcher")
		}
	}

	mux := http.NewServeMux()
	ms.setupRoutes(mux)

	handler := ms.panicRecoveryMiddleware(
		ms.requestLoggingMiddleware(
			ms.corsMiddleware(mux)))

	localAddress := fmt.Sprintf("http://%s", ms.config.GetAddress())
	ms.logger.WithFields(logrus.Fields{
		"address": localAddress,
		"billing": ms.billingService != nil,
	}).Info("Harmonia server starting")

	if ms.ngrokService != nil {
		if err := ms.ngrokService.StartTunnel(context.Background(), localAddress); err != nil {
			ms.logger.WithError(err).Warn("Could not start ngrok tunnel")
		}
	}

	ms.httpServer = &http.Server{
		Addr:        ms.config.GetAddress(),
		Handler:     handler,
		ReadTimeout: time.Duration(ms.config.Server.ReadTimeout) * time.Second,
	}

	if err := ms.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (ms *MusicServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", ms.handleHome)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(ms.config.Server.StaticDir))))
	mux.HandleFunc("/health", ms.handleHealthCheck)

	// Auth
	mux.HandleFunc("/api/auth/login", ms.handleAuthLogin)
	mux.HandleFunc("/api/auth/register", ms.handleAuthRegister)
	mux.HandleFunc("/api/auth/logout", ms.handleAuthLogout)
	mux.HandleFunc("/api/auth/me", ms.handleAuthMe)

	// Song catalog
	mux.HandleFunc("/api/songs", ms.handleGetSongs)
	mux.HandleFunc("/api/songs/mine", ms.requireAuth(ms.handleGetMySongs))
	mux.HandleFunc("/api/songs/upload", ms.requireAuth(ms.handleUploadSong))
	mux.HandleFunc("/api/songs/", ms.handleSongByID)
	mux.HandleFunc("/api/liked", ms.requireAuth(ms.handleGetLikedSongs))
	mux.HandleFunc("/api/liked/", ms.requireAuth(ms.handleLikeSong))

	// Object storage
	mux.HandleFunc("/storage/", ms.handleStorageObject)

	// Playback
	mux.HandleFunc("/api/player/play", ms.handlePlay)
	mux.HandleFunc("/api/player/state", ms.requireAuth(ms.handlePlayerState))
	mux.HandleFunc("/api/player/toggle", ms.requireAuth(ms.handleTogglePlay))
	mux.HandleFunc("/api/player/next", ms.requireAuth(ms.handleNextTrack))
	mux.HandleFunc("/api/player/previous", ms.requireAuth(ms.handlePreviousTrack))
	mux.HandleFunc("/api/player/ended", ms.requireAuth(ms.handleTrackEnded))
	mux.HandleFunc("/api/player/volume", ms.requireAuth(ms.handleSetVolume))

	// Billing
	mux.HandleFunc("/api/products", ms.handleGetProducts)
	mux.HandleFunc("/api/billing/subscription", ms.requireAuth(ms.handleGetSubscription))
	mux.HandleFunc("/api/billing/checkout-session", ms.requireAuth(ms.handleCreateCheckoutSession))
	mux.HandleFunc("/api/billing/portal-link", ms.requireAuth(ms.handleCreatePortalLink))
	mux.HandleFunc("/api/webhooks/stripe", ms.handleStripeWebhook)
}

// Shutdown gracefully stops the server and its background services.
func (ms *MusicServer) Shutdown(ctx context.Context) {
	ms.logger.Info("Shutting down server")

	ms.stopBucketWatcher()
	if ms.ngrokService != nil {
		ms.ngrokService.Stop()
	}
	if ms.httpServer != nil {
		if err := ms.httpServer.Shutdown(ctx); err != nil {
			ms.logger.WithError(err).Warn("HTTP shutdown did not complete cleanly")
		}
	}

	ms.logger.Info("Server shutdown complete")
}
