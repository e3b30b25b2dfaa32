package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"harmonia/internal/player"
	"harmonia/pkg/models"
)

func playRequest(body string, cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/player/play", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func TestPlayRequiresLogin(t *testing.T) {
	ms := newTestServer(t, false)
	song := seedSong(t, ms, "Anonymous Attempt")

	rec := httptest.NewRecorder()
	ms.handlePlay(rec, playRequest(fmt.Sprintf(`{"trackId":%q,"queueIds":[%q]}`, song.ID, song.ID), nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["prompt"] != "login" {
		t.Errorf("Expected login prompt, got %q", resp["prompt"])
	}
}

func TestPlayRequiresSubscription(t *testing.T) {
	ms := newTestServer(t, true)
	song := seedSong(t, ms, "Paywalled Track")
	session, cookie := loginTestUser(t, ms)

	rec := httptest.NewRecorder()
	ms.handlePlay(rec, playRequest(fmt.Sprintf(`{"trackId":%q,"queueIds":[%q]}`, song.ID, song.ID), cookie))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["prompt"] != "subscribe" {
		t.Errorf("Expected subscribe prompt, got %q", resp["prompt"])
	}

	// The denial must not have touched the caller's playback session.
	snapshot := ms.playerManager.Get(session.ID).Store().Snapshot()
	if snapshot.ActiveID != "" || len(snapshot.QueueIDs) != 0 {
		t.Errorf("Denied request mutated playback state: %+v", snapshot)
	}
}

func TestPlaySubscriptionLookupFailure(t *testing.T) {
	// A broken subscription lookup is a server error, not an entitlement
	// denial; the caller must never see the subscribe prompt for it.
	ms := newTestServer(t, true)
	song := seedSong(t, ms, "Unreachable Billing Track")
	session, cookie := loginTestUser(t, ms)

	if err := ms.db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	rec := httptest.NewRecorder()
	ms.handlePlay(rec, playRequest(fmt.Sprintf(`{"trackId":%q,"queueIds":[%q]}`, song.ID, song.ID), cookie))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d: %s", rec.Code, rec.Body.String())
	}

	snapshot := ms.playerManager.Get(session.ID).Store().Snapshot()
	if snapshot.ActiveID != "" || len(snapshot.QueueIDs) != 0 {
		t.Errorf("Failed request mutated playback state: %+v", snapshot)
	}
}

func TestPlaySubscriberAdmitted(t *testing.T) {
	ms := newTestServer(t, true)
	song := seedSong(t, ms, "Subscriber Track")
	session, cookie := loginTestUser(t, ms)

	sub := models.Subscription{
		ID:                 "sub_test_1",
		UserID:             session.UserID,
		Status:             models.SubscriptionStatusActive,
		PriceID:            "price_test_1",
		Quantity:           1,
		CurrentPeriodStart: "2026-08-01T00:00:00Z",
		CurrentPeriodEnd:   "2026-09-01T00:00:00Z",
		Created:            "2026-08-01T00:00:00Z",
	}
	if err := ms.db.UpsertSubscription(sub); err != nil {
		t.Fatalf("Failed to seed subscription: %v", err)
	}

	rec := httptest.NewRecorder()
	ms.handlePlay(rec, playRequest(fmt.Sprintf(`{"trackId":%q,"queueIds":[%q]}`, song.ID, song.ID), cookie))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var snapshot player.SessionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("Failed to parse snapshot: %v", err)
	}
	if snapshot.ActiveID != song.ID {
		t.Errorf("Expected active track %s, got %s", song.ID, snapshot.ActiveID)
	}
	if snapshot.State != player.StatePlaying {
		t.Errorf("Expected playing state, got %s", snapshot.State)
	}
	if snapshot.SourceURL == "" {
		t.Error("Expected resolved source URL")
	}
}

func TestPlayAdmittedWithoutBilling(t *testing.T) {
	// With billing disabled every authenticated user is entitled.
	ms := newTestServer(t, false)
	song := seedSong(t, ms, "Open Instance Track")
	_, cookie := loginTestUser(t, ms)

	other := seedSong(t, ms, "Queued Second")
	body := fmt.Sprintf(`{"trackId":%q,"queueIds":[%q,%q]}`, song.ID, song.ID, other.ID)

	rec := httptest.NewRecorder()
	ms.handlePlay(rec, playRequest(body, cookie))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var snapshot player.SessionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("Failed to parse snapshot: %v", err)
	}
	if len(snapshot.QueueIDs) != 2 {
		t.Errorf("Expected 2 queued tracks, got %d", len(snapshot.QueueIDs))
	}
}

func TestPlayValidatesBody(t *testing.T) {
	ms := newTestServer(t, false)
	_, cookie := loginTestUser(t, ms)

	testCases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing track id", `{"queueIds":["a"]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ms.handlePlay(rec, playRequest(tc.body, cookie))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestPlayerEndpointsRequireAuth(t *testing.T) {
	ms := newTestServer(t, false)

	endpoints := map[string]http.HandlerFunc{
		"/api/player/state":  ms.requireAuth(ms.handlePlayerState),
		"/api/player/toggle": ms.requireAuth(ms.handleTogglePlay),
		"/api/player/next":   ms.requireAuth(ms.handleNextTrack),
		"/api/player/volume": ms.requireAuth(ms.handleSetVolume),
	}

	for path, handler := range endpoints {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}")))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401 without session, got %d", path, rec.Code)
		}
	}
}

func TestQueueNavigationOverHTTP(t *testing.T) {
	ms := newTestServer(t, false)
	first := seedSong(t, ms, "First")
	second := seedSong(t, ms, "Second")
	_, cookie := loginTestUser(t, ms)

	body := fmt.Sprintf(`{"trackId":%q,"queueIds":[%q,%q]}`, first.ID, first.ID, second.ID)
	rec := httptest.NewRecorder()
	ms.handlePlay(rec, playRequest(body, cookie))
	if rec.Code != http.StatusOK {
		t.Fatalf("Play failed with status %d", rec.Code)
	}

	nextReq := httptest.NewRequest(http.MethodPost, "/api/player/next", nil)
	nextReq.AddCookie(cookie)
	rec = httptest.NewRecorder()
	ms.requireAuth(ms.handleNextTrack)(rec, nextReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("Next failed with status %d", rec.Code)
	}

	var snapshot player.SessionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("Failed to parse snapshot: %v", err)
	}
	if snapshot.ActiveID != second.ID {
		t.Errorf("Expected navigation to %s, got %s", second.ID, snapshot.ActiveID)
	}

	prevReq := httptest.NewRequest(http.MethodPost, "/api/player/previous", nil)
	prevReq.AddCookie(cookie)
	rec = httptest.NewRecorder()
	ms.requireAuth(ms.handlePreviousTrack)(rec, prevReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("Previous failed with status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("Failed to parse snapshot: %v", err)
	}
	if snapshot.ActiveID != first.ID {
		t.Errorf("Expected navigation back to %s, got %s", first.ID, snapshot.ActiveID)
	}
}
