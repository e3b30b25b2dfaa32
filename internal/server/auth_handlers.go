package server

import (
	"encoding/json"
	"net/http"
)

// handleAuthLogin handles login API requests
func (ms *MusicServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	if credentials.Username == "" || credentials.Password == "" {
		ms.respondWithError(w, r, http.StatusBadRequest, "Username and password required", nil)
		return
	}

	session, err := ms.authService.Login(credentials.Username, credentials.Password)
	if err != nil {
		ms.logger.WithError(err).WithField("username", credentials.Username).Warn("Failed login attempt")
		ms.respondWithError(w, r, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	ms.authService.GetSessionManager().SetSessionCookie(w, session)

	ms.logger.WithField("username", credentials.Username).Info("User logged in successfully")

	ms.respondJSON(w, map[string]string{
		"status":   "success",
		"userId":   session.UserID,
		"username": session.Username,
	})
}

// handleAuthRegister creates an account, its profile row, and logs it in.
func (ms *MusicServer) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if !ms.authService.IsRegistrationAllowed() {
		ms.respondWithError(w, r, http.StatusForbidden, "Registration is disabled", nil)
		return
	}

	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	user, err := ms.authService.Register(req.Username, req.Email, req.Password)
	if err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Registration failed", err)
		return
	}

	// The profile row backs billing detail copies from the reconciler.
	if err := ms.db.EnsureUserDetails(user.ID, user.Username); err != nil {
		ms.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to create user profile")
	}

	session, err := ms.authService.Login(req.Username, req.Password)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to create session", err)
		return
	}
	ms.authService.GetSessionManager().SetSessionCookie(w, session)

	ms.logger.WithField("username", user.Username).Info("User registered")

	w.WriteHeader(http.StatusCreated)
	ms.respondJSON(w, map[string]string{
		"status":   "success",
		"userId":   user.ID,
		"username": user.Username,
	})
}

// handleAuthLogout invalidates the session and resets its playback so the
// next login starts from a clean player.
func (ms *MusicServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	sessionManager := ms.authService.GetSessionManager()
	session, valid := sessionManager.GetSessionFromRequest(r)
	if valid {
		ms.playerManager.Remove(session.ID)
		ms.authService.Logout(session.ID)
		ms.logger.WithField("username", session.Username).Info("User logged out")
	}

	sessionManager.ClearSessionCookie(w)

	ms.respondJSON(w, map[string]string{"status": "success"})
}

// handleAuthMe reports the caller's identity and subscription standing.
func (ms *MusicServer) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	session := ms.optionalSession(r)
	if session == nil {
		ms.respondJSON(w, map[string]interface{}{"authenticated": false})
		return
	}

	ent, err := ms.entitlementFor(session)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to check subscription", err)
		return
	}
	ms.respondJSON(w, map[string]interface{}{
		"authenticated": true,
		"userId":        session.UserID,
		"username":      session.Username,
		"subscribed":    ent.HasActiveSubscription,
	})
}
