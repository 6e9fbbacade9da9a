package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/guild-tender/auth"
)

// stateTTL bounds how long a verification link stays usable.
const stateTTL = 10 * time.Minute

// maxOAuthStates caps the state map so abandoned flows cannot grow it
// without bound.
const maxOAuthStates = 10000

type oauthState struct {
	userID  string
	expires time.Time
}

// Handlers carries the dependencies of the HTTP endpoints.
type Handlers struct {
	DB   *sql.DB
	Auth *auth.Service

	// RedirectURI is the callback URL registered with the OAuth provider.
	RedirectURI string

	// GatewayReady reports the Discord connection state for /readyz.
	// Nil means the gateway is not part of this deployment's readiness.
	GatewayReady func() bool

	// ManagedChannels counts the live custom voice channels for /status.
	ManagedChannels func(ctx context.Context) (int, error)

	startTime time.Time

	stateMu sync.Mutex
	states  map[string]oauthState
}

// NewHandlers builds the handler set.
func NewHandlers(db *sql.DB, svc *auth.Service, redirectURI string) *Handlers {
	return &Handlers{
		DB:          db,
		Auth:        svc,
		RedirectURI: redirectURI,
		startTime:   time.Now(),
		states:      make(map[string]oauthState),
	}
}

// newState mints a state token bound to the Discord user starting the flow.
func (h *Handlers) newState(userID string) string {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	now := time.Now()
	for s, e := range h.states {
		if now.After(e.expires) {
			delete(h.states, s)
		}
	}
	if len(h.states) >= maxOAuthStates {
		// Still full after expiry sweep; refuse quietly by evicting one
		// arbitrary entry. That flow restarts from the verify command.
		for s := range h.states {
			delete(h.states, s)
			break
		}
	}

	state := uuid.New().String()
	h.states[state] = oauthState{userID: userID, expires: now.Add(stateTTL)}
	return state
}

// consumeState resolves and invalidates a state token. ok is false for
// unknown or expired tokens.
func (h *Handlers) consumeState(state string) (string, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	e, found := h.states[state]
	if !found {
		return "", false
	}
	delete(h.states, state)
	if time.Now().After(e.expires) {
		return "", false
	}
	return e.userID, true
}
