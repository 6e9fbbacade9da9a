package server

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/onnwee/guild-tender/telemetry"
)

// HandleAuthStart begins the verification flow. The ?user= parameter carries
// the Discord user id the verify command embedded in the personal link; the
// handler binds it to a fresh state token and redirects to the provider.
func (h *Handlers) HandleAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}

	// Already-verified users get a friendly page instead of a provider round trip.
	verified, err := h.Auth.IsVerified(r.Context(), userID)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("verification pre-check failed", slog.Any("err", err))
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if verified {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("You are already verified.\n"))
		return
	}

	link, err := h.Auth.OAuth.AuthLink(h.RedirectURI)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("auth link build failed", slog.Any("err", err))
		http.Error(w, "verification is not configured", http.StatusServiceUnavailable)
		return
	}
	state := h.newState(userID)
	http.Redirect(w, r, link+"&state="+url.QueryEscape(state), http.StatusFound)
}

// HandleAuthCallback completes the flow: the provider redirects back here with
// the authorization code and our state token.
func (h *Handlers) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx)

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	userID, ok := h.consumeState(state)
	if !ok {
		http.Error(w, "verification link expired, run the verify command again", http.StatusBadRequest)
		return
	}

	accessToken, err := h.Auth.OAuth.ExchangeCode(ctx, code, h.RedirectURI)
	if err != nil {
		telemetry.TokenExchangeFailures.Inc()
		log.Error("token exchange failed", slog.Any("err", err))
		http.Error(w, "could not complete sign-in, please try again", http.StatusBadGateway)
		return
	}

	username, err := h.Auth.OAuth.Username(ctx, accessToken)
	if err != nil {
		log.Error("token introspection failed", slog.Any("err", err))
		http.Error(w, "could not complete sign-in, please try again", http.StatusBadGateway)
		return
	}

	granted, err := h.Auth.Authorize(ctx, accessToken, username, userID)
	if err != nil {
		log.Error("authorization failed", slog.String("user_id", userID), slog.Any("err", err))
		http.Error(w, "verification failed, please try again later", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !granted {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("Verification was not completed. You may already be verified, or this identity is in use.\n"))
		return
	}
	_, _ = w.Write([]byte("Verification complete. You can close this page and return to Discord.\n"))
}
