package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/guild-tender/crypto"
	"github.com/onnwee/guild-tender/roles"
	"github.com/onnwee/guild-tender/telemetry"
	"github.com/onnwee/guild-tender/usermap"
)

// ErrDuplicateIdentity is returned by VerificationStore.Create when the
// auth id already exists. The unique index is the sole serialization point
// for concurrent attempts on the same identity, so Authorize treats it the
// same as the pre-check short-circuit: a normal "already verified" outcome.
var ErrDuplicateIdentity = errors.New("identity already verified")

// Verification is the durable record of one completed verification.
// AuthID is a one-way hash of the external username; raw usernames are
// never persisted.
type Verification struct {
	AuthID string
	UserID string
}

// VerificationStore persists verifications. Create must enforce uniqueness on
// AuthID atomically and report a violation as ErrDuplicateIdentity.
type VerificationStore interface {
	IsUserVerified(ctx context.Context, userID string) (bool, error)
	AuthIDExists(ctx context.Context, authID string) (bool, error)
	Create(ctx context.Context, v Verification) error
}

// IdentityResolver looks up the external profile for a verified token.
// A nil person (with nil error) means the identity does not exist.
type IdentityResolver interface {
	GetUserInfo(ctx context.Context, accessToken, username string) (*usermap.Person, error)
}

// RoleGranter assigns platform roles. The grant is atomic from the caller's
// point of view: either the member ends up with the roles or ok is false.
type RoleGranter interface {
	GrantRoles(ctx context.Context, userID string, roleIDs []string) (bool, error)
}

// Service owns the verification workflow.
type Service struct {
	OAuth    *OAuthClient
	Store    VerificationStore
	Resolver IdentityResolver
	Mapper   *roles.Mapper
	Granter  RoleGranter
	Hasher   *crypto.Hasher
}

// IsVerified reports whether the Discord user already holds a verification.
func (s *Service) IsVerified(ctx context.Context, userID string) (bool, error) {
	return s.Store.IsUserVerified(ctx, userID)
}

// Authorize runs the at-most-once grant protocol. It returns false (without
// error) for every expected rejection: user already verified, identity not
// found, identity already used by another account, or grant refused. A
// verification row is written only after a successful grant; a failed grant
// must never lock the identity out of retrying.
func (s *Service) Authorize(ctx context.Context, accessToken, username, userID string) (granted bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "auth", "authorize")
	defer span.End()
	telemetry.TimeFunc(telemetry.AuthorizeDuration, func() {
		granted, err = s.authorize(ctx, accessToken, username, userID)
	})
	return granted, err
}

func (s *Service) authorize(ctx context.Context, accessToken, username, userID string) (bool, error) {
	verified, err := s.Store.IsUserVerified(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("verification pre-check: %w", err)
	}
	if verified {
		telemetry.VerificationsRejected.Inc()
		slog.Info("authorize rejected: user already verified", slog.String("user_id", userID))
		return false, nil
	}

	person, err := s.Resolver.GetUserInfo(ctx, accessToken, username)
	if err != nil {
		return false, fmt.Errorf("identity lookup: %w", err)
	}
	if person == nil {
		telemetry.VerificationsRejected.Inc()
		slog.Info("authorize rejected: identity not found", slog.String("username", username))
		return false, nil
	}

	authID := s.Hasher.Hash(person.Username)
	exists, err := s.Store.AuthIDExists(ctx, authID)
	if err != nil {
		return false, fmt.Errorf("auth id check: %w", err)
	}
	if exists {
		telemetry.VerificationsRejected.Inc()
		slog.Info("authorize rejected: identity already verified", slog.String("user_id", userID))
		return false, nil
	}

	roleIDs := s.Mapper.Map(person.Roles)
	granted, err := s.Granter.GrantRoles(ctx, userID, roleIDs)
	if err != nil {
		telemetry.RoleGrantFailures.Inc()
		return false, fmt.Errorf("role grant: %w", err)
	}
	if !granted {
		telemetry.RoleGrantFailures.Inc()
		slog.Warn("authorize failed: role grant refused", slog.String("user_id", userID))
		return false, nil
	}

	if err := s.Store.Create(ctx, Verification{AuthID: authID, UserID: userID}); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			// Lost the race against a concurrent attempt for the same identity.
			// The extra grant is harmless; the later attempt simply reports failure.
			telemetry.VerificationsRejected.Inc()
			slog.Info("authorize rejected: lost insert race", slog.String("user_id", userID))
			return false, nil
		}
		return false, fmt.Errorf("persist verification: %w", err)
	}

	telemetry.VerificationsSucceeded.Inc()
	slog.Info("user verified", slog.String("user_id", userID), slog.Int("roles", len(roleIDs)))
	return true, nil
}
