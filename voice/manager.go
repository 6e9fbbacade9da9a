// Package voice owns the lifecycle of ephemeral "custom" voice channels:
// create-on-join at the trigger channel, owner rename/limit edits,
// delete-on-empty, a startup reconciliation sweep, and a deferred safety-net
// deletion for channels whose move-in silently failed.
//
// The manager holds no persisted channel inventory; truth is always re-derived
// from the platform's current channel listing. A channel is "managed" exactly
// when its parent category equals the trigger channel's parent category, and
// the trigger channel itself is never deleted or edited. Correctness under
// concurrent event delivery comes from idempotent re-checkable operations
// (delete-if-empty, create-then-verify-still-connected), not locks.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/guild-tender/telemetry"
)

// fallbackOwnerName names channels for members whose display name sanitizes
// to nothing. Must itself be printable ASCII or Sanitize would erase it.
const fallbackOwnerName = "FITAK"

// Channel is the platform channel view the manager needs.
type Channel struct {
	ID        string
	ParentID  string
	Name      string
	UserLimit int
}

// Member is the platform member view the manager needs.
type Member struct {
	ID       string
	Username string
	Nickname string
}

// ChannelAPI is the platform capability consumed by the manager. Every method
// performs a network round trip and may fail transiently; the manager treats
// all such failures as non-fatal to the event-processing path.
type ChannelAPI interface {
	Channel(ctx context.Context, id string) (Channel, error)
	ChannelsInCategory(ctx context.Context, categoryID string) ([]Channel, error)
	CloneChannel(ctx context.Context, templateID, reason string) (Channel, error)
	ModifyChannel(ctx context.Context, id, name string, userLimit *int) error
	DeleteChannel(ctx context.Context, id string) error
	Member(ctx context.Context, id string) (Member, error)
	MemberVoiceChannel(ctx context.Context, memberID string) (string, error)
	MoveMember(ctx context.Context, memberID, channelID string) error
	OccupantCount(ctx context.Context, channelID string) (int, error)
}

// Config is the immutable voice-channel configuration.
type Config struct {
	TriggerChannelID string
	AutoDeleteDelay  time.Duration
}

// Manager implements the ephemeral voice channel lifecycle.
type Manager struct {
	api ChannelAPI
	cfg Config

	mu         sync.Mutex
	started    bool
	categoryID string

	sched *scheduler
}

// NewManager returns an unstarted Manager.
func NewManager(api ChannelAPI, cfg Config) *Manager {
	return &Manager{api: api, cfg: cfg, sched: newScheduler()}
}

// Start resolves the managed category and runs the reconciliation sweep,
// deleting every empty channel under the category except the trigger itself.
// Calling Start twice is a no-op. Event handlers must be wired to
// HandleVoiceState by the composition root before or after Start; events
// arriving before Start are ignored.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	trigger, err := m.api.Channel(ctx, m.cfg.TriggerChannelID)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("resolve trigger channel %s: %w", m.cfg.TriggerChannelID, err)
	}
	m.categoryID = trigger.ParentID
	m.started = true
	m.mu.Unlock()

	m.sweep(ctx)
	return nil
}

// HandleVoiceState processes one voice-state-change notification. Delivery is
// at-least-once and unordered; both the join-trigger branch and the
// left-channel branch are evaluated independently, since a member can move
// from a managed channel straight back into the trigger channel in one event.
func (m *Manager) HandleVoiceState(ctx context.Context, memberID, beforeChannelID, afterChannelID string) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}

	if afterChannelID == m.cfg.TriggerChannelID {
		member, err := m.api.Member(ctx, memberID)
		if err != nil {
			slog.Warn("voice: member lookup failed", slog.String("member_id", memberID), slog.Any("err", err))
		} else {
			zero := 0
			m.CreateChannel(ctx, member, "", &zero)
		}
	}

	if beforeChannelID != "" && beforeChannelID != m.cfg.TriggerChannelID {
		ch, err := m.api.Channel(ctx, beforeChannelID)
		if err != nil {
			// Channel may already be gone; a concurrent path won the race.
			slog.Debug("voice: previous channel lookup failed", slog.String("channel_id", beforeChannelID), slog.Any("err", err))
		} else {
			m.deleteIfUnused(ctx, ch)
		}
	}
}

// CreateChannel clones the trigger channel for member, applies the requested
// name and user limit, moves the member in if they are still connected, and
// arms the safety-net deletion. All platform failures are logged and
// swallowed; the triggering event must not crash the event loop.
func (m *Manager) CreateChannel(ctx context.Context, member Member, name string, userLimit *int) {
	cleanName := Sanitize(name, "")
	display := Sanitize(member.Nickname, "")
	if display == "" {
		display = Sanitize(member.Username, "")
	}
	owner := display
	if owner == "" {
		owner = fallbackOwnerName
	}

	ch, err := m.api.CloneChannel(ctx, m.cfg.TriggerChannelID, fmt.Sprintf("Member %s created a new voice channel.", owner))
	if err != nil {
		telemetry.VoiceCreateFailures.Inc()
		slog.Error("voice: creating channel failed", slog.String("member_id", member.ID), slog.Any("err", err))
		return
	}
	telemetry.VoiceChannelsCreated.Inc()

	if err := m.applyEdits(ctx, ch.ID, cleanName, userLimit, owner); err != nil {
		slog.Warn("voice: initial channel edit failed", slog.String("channel_id", ch.ID), slog.Any("err", err))
	}

	if current, err := m.api.MemberVoiceChannel(ctx, member.ID); err == nil && current != "" {
		if err := m.api.MoveMember(ctx, member.ID, ch.ID); err != nil {
			// Member disconnected during the clone/edit round trip; the
			// safety-net deletion below cleans the channel up.
			slog.Debug("voice: move-in failed", slog.String("channel_id", ch.ID), slog.Any("err", err))
		}
	}

	channelID := ch.ID
	m.sched.Schedule(channelID, m.cfg.AutoDeleteDelay, func() {
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ch, err := m.api.Channel(dctx, channelID)
		if err != nil {
			slog.Debug("voice: safety-net lookup failed", slog.String("channel_id", channelID), slog.Any("err", err))
			return
		}
		m.deleteIfUnused(dctx, ch)
	})
}

// EditChannel renames and/or re-limits the channel the member currently
// occupies. It reports false when the member is not in a voice channel, is in
// the trigger channel, the channel is outside the managed category, or the
// platform edit call fails.
func (m *Manager) EditChannel(ctx context.Context, memberID, newName string, userLimit *int) bool {
	m.mu.Lock()
	started := m.started
	categoryID := m.categoryID
	m.mu.Unlock()
	if !started {
		return false
	}

	current, err := m.api.MemberVoiceChannel(ctx, memberID)
	if err != nil || current == "" || current == m.cfg.TriggerChannelID {
		return false
	}
	ch, err := m.api.Channel(ctx, current)
	if err != nil || ch.ParentID != categoryID {
		return false
	}

	owner := fallbackOwnerName
	if member, err := m.api.Member(ctx, memberID); err == nil {
		if d := Sanitize(member.Nickname, Sanitize(member.Username, "")); d != "" {
			owner = d
		}
	}

	if err := m.applyEdits(ctx, ch.ID, Sanitize(newName, ""), userLimit, owner); err != nil {
		slog.Warn("voice: editing channel failed", slog.String("channel_id", ch.ID), slog.Any("err", err))
		return false
	}
	return true
}

// applyEdits pushes name and clamped user limit to the platform. An empty
// name falls back to "<owner>'s channel".
func (m *Manager) applyEdits(ctx context.Context, channelID, name string, userLimit *int, owner string) error {
	if name == "" {
		name = owner + "'s channel"
	}
	if userLimit != nil {
		clamped := *userLimit
		if clamped < 0 {
			clamped = 0
		}
		if clamped > 99 {
			clamped = 99
		}
		userLimit = &clamped
	}
	return m.api.ModifyChannel(ctx, channelID, name, userLimit)
}

// deleteIfUnused removes the channel when it is managed and empty. The trigger
// channel and channels outside the managed category are always left alone.
// Delete failures are swallowed: the channel may have been removed concurrently
// by the safety-net task or another event.
func (m *Manager) deleteIfUnused(ctx context.Context, ch Channel) {
	if ch.ID == m.cfg.TriggerChannelID || ch.ParentID != m.categoryID {
		return
	}
	n, err := m.api.OccupantCount(ctx, ch.ID)
	if err != nil {
		slog.Debug("voice: occupancy check failed", slog.String("channel_id", ch.ID), slog.Any("err", err))
		return
	}
	if n > 0 {
		return
	}
	if err := m.api.DeleteChannel(ctx, ch.ID); err != nil {
		slog.Debug("voice: delete failed (likely already gone)", slog.String("channel_id", ch.ID), slog.Any("err", err))
		return
	}
	telemetry.VoiceChannelsDeleted.Inc()
	m.sched.Cancel(ch.ID)
}

// sweep enumerates the managed category and deletes every empty non-trigger
// channel. Run at startup to repair state after downtime, since events may
// have been missed while offline.
func (m *Manager) sweep(ctx context.Context) {
	chans, err := m.api.ChannelsInCategory(ctx, m.categoryID)
	if err != nil {
		slog.Warn("voice: reconciliation listing failed", slog.Any("err", err))
		return
	}
	for _, ch := range chans {
		m.deleteIfUnused(ctx, ch)
	}
	if n, err := m.ManagedCount(ctx); err == nil {
		telemetry.SetManagedChannels(n)
	}
}

// ManagedCount reports how many custom channels currently exist under the
// managed category. Returns 0 before Start.
func (m *Manager) ManagedCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	started := m.started
	categoryID := m.categoryID
	m.mu.Unlock()
	if !started {
		return 0, nil
	}
	chans, err := m.api.ChannelsInCategory(ctx, categoryID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ch := range chans {
		if ch.ID != m.cfg.TriggerChannelID {
			n++
		}
	}
	return n, nil
}
