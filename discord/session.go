// Package discord wraps the discordgo session behind the narrow capabilities
// the core subsystems consume: channel lifecycle calls for the voice manager,
// role grants for the authorization service, and the chat-command registry.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/guild-tender/voice"
)

// Client is a thin guild-scoped wrapper over a discordgo session.
type Client struct {
	S       *discordgo.Session
	GuildID string
}

// New creates a configured (but not yet connected) client for one guild.
func New(token, guildID string) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	return &Client{S: s, GuildID: guildID}, nil
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.S.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close shuts the gateway connection down.
func (c *Client) Close() error {
	return c.S.Close()
}

// OnVoiceStateUpdate registers fn for every voice-state change in the guild.
// Delivery is at-least-once and unordered; fn runs on the gateway event
// goroutine pool and must not panic.
func (c *Client) OnVoiceStateUpdate(fn func(memberID, beforeChannelID, afterChannelID string)) {
	c.S.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		if e.GuildID != c.GuildID {
			return
		}
		before := ""
		if e.BeforeUpdate != nil {
			before = e.BeforeUpdate.ChannelID
		}
		fn(e.UserID, before, e.ChannelID)
	})
}

// Channel implements voice.ChannelAPI.
func (c *Client) Channel(_ context.Context, id string) (voice.Channel, error) {
	ch, err := c.S.Channel(id)
	if err != nil {
		return voice.Channel{}, fmt.Errorf("fetch channel %s: %w", id, err)
	}
	return toChannel(ch), nil
}

// ChannelsInCategory lists the guild's channels under categoryID.
func (c *Client) ChannelsInCategory(_ context.Context, categoryID string) ([]voice.Channel, error) {
	chans, err := c.S.GuildChannels(c.GuildID)
	if err != nil {
		return nil, fmt.Errorf("list guild channels: %w", err)
	}
	var out []voice.Channel
	for _, ch := range chans {
		if ch.ParentID == categoryID {
			out = append(out, toChannel(ch))
		}
	}
	return out, nil
}

// CloneChannel creates a new voice channel with the template's settings, in
// the template's category. reason lands in the guild audit log.
func (c *Client) CloneChannel(_ context.Context, templateID, reason string) (voice.Channel, error) {
	tmpl, err := c.S.Channel(templateID)
	if err != nil {
		return voice.Channel{}, fmt.Errorf("fetch template channel %s: %w", templateID, err)
	}
	ch, err := c.S.GuildChannelCreateComplex(c.GuildID, discordgo.GuildChannelCreateData{
		Name:      tmpl.Name,
		Type:      tmpl.Type,
		Bitrate:   tmpl.Bitrate,
		UserLimit: tmpl.UserLimit,
		ParentID:  tmpl.ParentID,
		Position:  tmpl.Position,
	}, discordgo.WithAuditLogReason(reason))
	if err != nil {
		return voice.Channel{}, fmt.Errorf("clone channel %s: %w", templateID, err)
	}
	return toChannel(ch), nil
}

// ModifyChannel applies name and optional user limit. A nil limit leaves the
// current limit untouched.
func (c *Client) ModifyChannel(_ context.Context, id, name string, userLimit *int) error {
	edit := &discordgo.ChannelEdit{Name: name}
	if userLimit != nil {
		edit.UserLimit = *userLimit
	}
	if _, err := c.S.ChannelEdit(id, edit); err != nil {
		return fmt.Errorf("edit channel %s: %w", id, err)
	}
	return nil
}

// DeleteChannel removes the channel.
func (c *Client) DeleteChannel(_ context.Context, id string) error {
	if _, err := c.S.ChannelDelete(id); err != nil {
		return fmt.Errorf("delete channel %s: %w", id, err)
	}
	return nil
}

// Member resolves a guild member.
func (c *Client) Member(_ context.Context, id string) (voice.Member, error) {
	m, err := c.S.GuildMember(c.GuildID, id)
	if err != nil {
		return voice.Member{}, fmt.Errorf("fetch member %s: %w", id, err)
	}
	username := ""
	if m.User != nil {
		username = m.User.Username
	}
	return voice.Member{ID: id, Username: username, Nickname: m.Nick}, nil
}

// MemberVoiceChannel returns the channel the member currently occupies, or ""
// when they are not connected to voice. Answered from the gateway state cache.
func (c *Client) MemberVoiceChannel(_ context.Context, memberID string) (string, error) {
	vs, err := c.S.State.VoiceState(c.GuildID, memberID)
	if err != nil || vs == nil {
		return "", nil
	}
	return vs.ChannelID, nil
}

// MoveMember places the member into the given voice channel.
func (c *Client) MoveMember(_ context.Context, memberID, channelID string) error {
	if err := c.S.GuildMemberMove(c.GuildID, memberID, &channelID); err != nil {
		return fmt.Errorf("move member %s: %w", memberID, err)
	}
	return nil
}

// OccupantCount reports the number of members connected to the channel,
// derived from the cached guild voice states.
func (c *Client) OccupantCount(_ context.Context, channelID string) (int, error) {
	g, err := c.S.State.Guild(c.GuildID)
	if err != nil {
		return 0, fmt.Errorf("guild state: %w", err)
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			n++
		}
	}
	return n, nil
}

// GrantRoles adds every role id to the member. The grant is atomic from the
// caller's point of view: any failed add reports the grant as not ok.
func (c *Client) GrantRoles(_ context.Context, userID string, roleIDs []string) (bool, error) {
	for _, roleID := range roleIDs {
		if err := c.S.GuildMemberRoleAdd(c.GuildID, userID, roleID); err != nil {
			return false, fmt.Errorf("grant role %s to %s: %w", roleID, userID, err)
		}
	}
	return true, nil
}

// SendMessage posts text to a channel; failures are returned, not retried.
func (c *Client) SendMessage(channelID, text string) error {
	if _, err := c.S.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return nil
}

// SendDM opens (or reuses) the user's DM channel and posts text there.
func (c *Client) SendDM(userID, text string) error {
	ch, err := c.S.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open dm channel for %s: %w", userID, err)
	}
	return c.SendMessage(ch.ID, text)
}

func toChannel(ch *discordgo.Channel) voice.Channel {
	return voice.Channel{
		ID:        ch.ID,
		ParentID:  ch.ParentID,
		Name:      ch.Name,
		UserLimit: ch.UserLimit,
	}
}

// LogGatewayEvents attaches a debug handler announcing connect/resume, useful
// when diagnosing missed voice events after reconnects.
func (c *Client) LogGatewayEvents() {
	c.S.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		slog.Info("discord gateway ready", slog.String("guild_id", c.GuildID))
	})
	c.S.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		slog.Info("discord gateway resumed", slog.String("guild_id", c.GuildID))
	})
}
