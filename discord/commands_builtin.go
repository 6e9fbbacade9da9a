package discord

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/guild-tender/voice"
)

// BotCommands bundles the dependencies of the built-in chat commands.
type BotCommands struct {
	Voice         *voice.Manager
	PublicBaseURL string
}

// RegisterAll binds every built-in command into the registry.
func (b *BotCommands) RegisterAll(r *Registry) {
	r.Register("verify", b.Verify)
	r.Register("send", b.Send)
	r.Register("edit", b.Edit)
	r.Register("poll", b.Poll)
	r.Register("mute", b.Mute)
	r.Register("unmute", b.Unmute)
	r.Register("voice", b.VoiceEdit)
}

var (
	channelMentionRe = regexp.MustCompile(`^<#(\d+)>$`)
	userMentionRe    = regexp.MustCompile(`^<@!?(\d+)>$`)
)

// parseChannelMention returns the channel id from a <#id> mention.
func parseChannelMention(arg string) (string, bool) {
	m := channelMentionRe.FindStringSubmatch(arg)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseUserMention returns the user id from a <@id> or <@!id> mention.
func parseUserMention(arg string) (string, bool) {
	m := userMentionRe.FindStringSubmatch(arg)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// requireMod checks the author's permissions in the command channel.
func (b *BotCommands) requireMod(c *Client, msg *IncomingMessage) error {
	perms, err := c.S.UserChannelPermissions(msg.AuthorID, msg.ChannelID)
	if err != nil {
		return fmt.Errorf("permission lookup: %w", err)
	}
	if perms&discordgo.PermissionManageMessages == 0 {
		return c.SendMessage(msg.ChannelID, "You don't have permission to do that.")
	}
	return nil
}

// Verify DMs the author their personal verification link.
func (b *BotCommands) Verify(_ context.Context, c *Client, msg *IncomingMessage, _ []string) error {
	link := b.PublicBaseURL + "/auth/start?user=" + msg.AuthorID
	if err := c.SendDM(msg.AuthorID, "Verify your university identity here: "+link); err != nil {
		return c.SendMessage(msg.ChannelID, "I couldn't DM you; please allow direct messages and try again.")
	}
	return c.SendMessage(msg.ChannelID, "Check your DMs for the verification link.")
}

// Send posts a message into a mentioned channel: ;send #general hello there
func (b *BotCommands) Send(_ context.Context, c *Client, msg *IncomingMessage, args []string) error {
	if err := b.requireMod(c, msg); err != nil {
		return err
	}
	if len(args) < 2 {
		return c.SendMessage(msg.ChannelID, "Usage: send #channel <message>")
	}
	targetID, ok := parseChannelMention(args[0])
	if !ok {
		return c.SendMessage(msg.ChannelID, "First argument must be a channel mention.")
	}
	return c.SendMessage(targetID, strings.Join(args[1:], " "))
}

// Edit rewrites one of the bot's messages: ;edit #general <messageID> new text
func (b *BotCommands) Edit(_ context.Context, c *Client, msg *IncomingMessage, args []string) error {
	if err := b.requireMod(c, msg); err != nil {
		return err
	}
	if len(args) < 3 {
		return c.SendMessage(msg.ChannelID, "Usage: edit #channel <messageID> <message>")
	}
	targetID, ok := parseChannelMention(args[0])
	if !ok {
		return c.SendMessage(msg.ChannelID, "First argument must be a channel mention.")
	}
	if _, err := c.S.ChannelMessageEdit(targetID, args[1], strings.Join(args[2:], " ")); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// Poll posts a yes/no poll with thumb reactions: ;poll Should we play tonight?
func (b *BotCommands) Poll(_ context.Context, c *Client, msg *IncomingMessage, args []string) error {
	if len(args) == 0 {
		return c.SendMessage(msg.ChannelID, "Usage: poll <question>")
	}
	posted, err := c.S.ChannelMessageSend(msg.ChannelID, "\U0001F4CA "+strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("post poll: %w", err)
	}
	for _, emoji := range []string{"\U0001F44D", "\U0001F44E"} {
		if err := c.S.MessageReactionAdd(msg.ChannelID, posted.ID, emoji); err != nil {
			return fmt.Errorf("add poll reaction: %w", err)
		}
	}
	return nil
}

// Mute times a member out: ;mute @user 10m
func (b *BotCommands) Mute(_ context.Context, c *Client, msg *IncomingMessage, args []string) error {
	if err := b.requireMod(c, msg); err != nil {
		return err
	}
	if len(args) < 2 {
		return c.SendMessage(msg.ChannelID, "Usage: mute @user <duration>")
	}
	userID, ok := parseUserMention(args[0])
	if !ok {
		return c.SendMessage(msg.ChannelID, "First argument must be a user mention.")
	}
	d, err := time.ParseDuration(args[1])
	if err != nil || d <= 0 {
		return c.SendMessage(msg.ChannelID, "Duration must look like 10m or 2h.")
	}
	until := time.Now().Add(d)
	if err := c.S.GuildMemberTimeout(c.GuildID, userID, &until); err != nil {
		return fmt.Errorf("timeout member: %w", err)
	}
	return c.SendMessage(msg.ChannelID, "Muted until "+until.UTC().Format(time.RFC3339)+".")
}

// Unmute clears a member's timeout: ;unmute @user
func (b *BotCommands) Unmute(_ context.Context, c *Client, msg *IncomingMessage, args []string) error {
	if err := b.requireMod(c, msg); err != nil {
		return err
	}
	if len(args) < 1 {
		return c.SendMessage(msg.ChannelID, "Usage: unmute @user")
	}
	userID, ok := parseUserMention(args[0])
	if !ok {
		return c.SendMessage(msg.ChannelID, "First argument must be a user mention.")
	}
	if err := c.S.GuildMemberTimeout(c.GuildID, userID, nil); err != nil {
		return fmt.Errorf("clear timeout: %w", err)
	}
	return c.SendMessage(msg.ChannelID, "Unmuted.")
}

// VoiceEdit lets the occupant rename or re-limit their custom voice channel:
//
//	;voice name My Lounge
//	;voice limit 5
func (b *BotCommands) VoiceEdit(ctx context.Context, c *Client, msg *IncomingMessage, args []string) error {
	if len(args) < 2 {
		return c.SendMessage(msg.ChannelID, "Usage: voice name <new name> | voice limit <0-99>")
	}
	var ok bool
	switch args[0] {
	case "name":
		ok = b.Voice.EditChannel(ctx, msg.AuthorID, strings.Join(args[1:], " "), nil)
	case "limit":
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return c.SendMessage(msg.ChannelID, "Limit must be a number between 0 and 99.")
		}
		ok = b.Voice.EditChannel(ctx, msg.AuthorID, "", &n)
	default:
		return c.SendMessage(msg.ChannelID, "Usage: voice name <new name> | voice limit <0-99>")
	}
	if !ok {
		return c.SendMessage(msg.ChannelID, "Join a custom voice channel first.")
	}
	return c.SendMessage(msg.ChannelID, "Done.")
}
