package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/guild-tender/auth"
	"github.com/onnwee/guild-tender/crypto"
	"github.com/onnwee/guild-tender/roles"
	"github.com/onnwee/guild-tender/usermap"
)

type fakeStore struct {
	mu       sync.Mutex
	byUser   map[string]bool
	byAuthID map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byUser: map[string]bool{}, byAuthID: map[string]bool{}}
}

func (s *fakeStore) IsUserVerified(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byUser[userID], nil
}

func (s *fakeStore) AuthIDExists(_ context.Context, authID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byAuthID[authID], nil
}

func (s *fakeStore) Create(_ context.Context, v auth.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byAuthID[v.AuthID] {
		return auth.ErrDuplicateIdentity
	}
	s.byAuthID[v.AuthID] = true
	s.byUser[v.UserID] = true
	return nil
}

type fakeResolver struct {
	person *usermap.Person
	err    error
}

func (r *fakeResolver) GetUserInfo(_ context.Context, _, _ string) (*usermap.Person, error) {
	return r.person, r.err
}

type fakeGranter struct {
	granted []string
}

func (g *fakeGranter) GrantRoles(_ context.Context, userID string, _ []string) (bool, error) {
	g.granted = append(g.granted, userID)
	return true, nil
}

func newTestHandlers(t *testing.T, store *fakeStore, oauth *auth.OAuthClient) *Handlers {
	t.Helper()
	if oauth == nil {
		oauth = &auth.OAuthClient{Config: auth.OAuthConfig{
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			AuthorizeURL: "https://auth.example/authorize",
		}}
	}
	svc := &auth.Service{
		OAuth:    oauth,
		Store:    store,
		Resolver: &fakeResolver{person: &usermap.Person{Username: "novakh", Roles: []string{"student"}}},
		Mapper:   roles.NewMapper(map[string][]string{"student": {"900"}}),
		Granter:  &fakeGranter{},
		Hasher:   crypto.NewHasher("pepper"),
	}
	return NewHandlers(nil, svc, "https://bot.example/auth/callback")
}

func TestHealthz(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected generated correlation id header")
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db = %d, want 503", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("status body missing uptime_seconds")
	}
}

func TestStatusManagedChannels(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	h.ManagedChannels = func(context.Context) (int, error) { return 3, nil }
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if n, ok := body["managed_voice_channels"].(float64); !ok || n != 3 {
		t.Errorf("managed_voice_channels = %v", body["managed_voice_channels"])
	}
}

func TestCorrelationIDPassthrough(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	NewMux(h).ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-42" {
		t.Errorf("correlation id = %q, want corr-42", got)
	}
}

func TestAuthStartMissingUser(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/start", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("auth start without user = %d, want 400", rec.Code)
	}
}

func TestAuthStartRedirect(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/start?user=42", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("auth start = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	q := loc.Query()
	if q.Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://bot.example/auth/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	state := q.Get("state")
	if state == "" {
		t.Fatal("redirect missing state")
	}
	userID, ok := h.consumeState(state)
	if !ok || userID != "42" {
		t.Errorf("state resolves to %q, %v; want 42, true", userID, ok)
	}
}

func TestAuthStartAlreadyVerified(t *testing.T) {
	store := newFakeStore()
	store.byUser["42"] = true
	h := newTestHandlers(t, store, nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/start?user=42", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("verified user start = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already verified") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAuthCallbackUnknownState(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("callback with unknown state = %d, want 400", rec.Code)
	}
}

func TestStateSingleUseAndExpiry(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)

	state := h.newState("42")
	if _, ok := h.consumeState(state); !ok {
		t.Fatal("fresh state must resolve")
	}
	if _, ok := h.consumeState(state); ok {
		t.Error("state must be single use")
	}

	expired := h.newState("43")
	h.stateMu.Lock()
	h.states[expired] = oauthState{userID: "43", expires: time.Now().Add(-time.Minute)}
	h.stateMu.Unlock()
	if _, ok := h.consumeState(expired); ok {
		t.Error("expired state must not resolve")
	}
}

func TestAuthCallbackFullFlow(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"tok-1","token_type":"bearer"}`)
		case "/oauth/check_token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"user_name":"novakh"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer provider.Close()

	oauth := &auth.OAuthClient{Config: auth.OAuthConfig{
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		AuthorizeURL:  provider.URL + "/oauth/authorize",
		TokenURL:      provider.URL + "/oauth/token",
		CheckTokenURL: provider.URL + "/oauth/check_token",
	}}
	store := newFakeStore()
	h := newTestHandlers(t, store, oauth)
	granter := h.Auth.Granter.(*fakeGranter)

	state := h.newState("42")
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+state, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("callback = %d, body %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Verification complete") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if len(granter.granted) != 1 || granter.granted[0] != "42" {
		t.Errorf("granted = %v, want [42]", granter.granted)
	}
	if !store.byUser["42"] {
		t.Error("verification not persisted")
	}
}

func TestAuthCallbackExchangeFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer provider.Close()

	oauth := &auth.OAuthClient{Config: auth.OAuthConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AuthorizeURL: provider.URL + "/oauth/authorize",
		TokenURL:     provider.URL + "/oauth/token",
	}}
	h := newTestHandlers(t, newFakeStore(), oauth)

	state := h.newState("42")
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=bad&state="+state, nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("callback with failing exchange = %d, want 502", rec.Code)
	}
}

func TestAuthCallbackDuplicateIdentity(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"tok-1","token_type":"bearer"}`)
		case "/oauth/check_token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"user_name":"novakh"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer provider.Close()

	oauth := &auth.OAuthClient{Config: auth.OAuthConfig{
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		AuthorizeURL:  provider.URL + "/oauth/authorize",
		TokenURL:      provider.URL + "/oauth/token",
		CheckTokenURL: provider.URL + "/oauth/check_token",
	}}
	store := newFakeStore()
	h := newTestHandlers(t, store, oauth)

	// Same university identity already claimed by another Discord account.
	store.byAuthID[h.Auth.Hasher.Hash("novakh")] = true

	state := h.newState("42")
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+state, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("callback with claimed identity = %d, want 409", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(t, newFakeStore(), nil)
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/start?user=42", strings.NewReader("")))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST auth start = %d, want 405", rec.Code)
	}
}
