package playback

import (
	"github.com/sirupsen/logrus"

	"harmonia/internal/player"
)

// Decision is the outcome of an admission check.
type Decision string

const (
	// Admitted: the request passed both checks and the store was mutated.
	Admitted Decision = "admitted"
	// AuthRequired: the caller is not authenticated. The login prompt fired.
	AuthRequired Decision = "auth_required"
	// SubscriptionRequired: authenticated but not subscribed. The subscribe
	// prompt fired.
	SubscriptionRequired Decision = "subscription_required"
)

// Entitlement is the caller's standing at the moment of the request.
type Entitlement struct {
	UserID                string
	IsAuthenticated       bool
	HasActiveSubscription bool
}

// Prompts are fired when a request is denied, at most one per request.
// Either callback may be nil.
type Prompts struct {
	LoginRequired     func()
	SubscribeRequired func()
}

// Gate guards every play request on a session's store. Checks run in a fixed
// order with short-circuit: authentication first, then subscription, then
// admission. A denied request fires exactly one prompt and leaves the store
// untouched; an admitted request sets the active track before replacing the
// queue, so observers watching the active id may briefly see it point at a
// track the old queue does not contain.
type Gate struct {
	prompts Prompts
	logger  *logrus.Logger
}

// NewGate creates a gate with the given denial prompts.
func NewGate(prompts Prompts, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{
		prompts: prompts,
		logger:  logger,
	}
}

// Play admits or denies a request to play trackID with queueIDs as the new
// queue, against the given store.
func (g *Gate) Play(store *player.Store, ent Entitlement, trackID string, queueIDs []string) Decision {
	if !ent.IsAuthenticated {
		g.logger.WithField("track_id", trackID).Debug("Play denied: not authenticated")
		if g.prompts.LoginRequired != nil {
			g.prompts.LoginRequired()
		}
		return AuthRequired
	}

	if !ent.HasActiveSubscription {
		g.logger.WithFields(logrus.Fields{
			"user_id":  ent.UserID,
			"track_id": trackID,
		}).Debug("Play denied: no active subscription")
		if g.prompts.SubscribeRequired != nil {
			g.prompts.SubscribeRequired()
		}
		return SubscriptionRequired
	}

	store.SetActiveTrack(trackID)
	store.SetQueue(queueIDs)

	g.logger.WithFields(logrus.Fields{
		"user_id":    ent.UserID,
		"track_id":   trackID,
		"queue_size": len(queueIDs),
	}).Debug("Play admitted")
	return Admitted
}
