package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc executes one chat command. args excludes the prefix and keyword.
type HandlerFunc func(ctx context.Context, c *Client, msg *IncomingMessage, args []string) error

// IncomingMessage is the slice of a chat message command handlers need.
type IncomingMessage struct {
	ChannelID string
	AuthorID  string
	Content   string
}

// commandTimeout bounds a single command execution.
const commandTimeout = 30 * time.Second

// Registry maps command keywords to handlers, resolved at startup. Handler
// failures are logged; a broken command must never take the gateway event
// loop down.
type Registry struct {
	prefix   string
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry for the given command prefix.
func NewRegistry(prefix string) *Registry {
	return &Registry{prefix: prefix, handlers: make(map[string]HandlerFunc)}
}

// Register binds keyword to h, replacing any previous binding.
func (r *Registry) Register(keyword string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(keyword)] = h
}

// Size reports the number of registered commands.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// ParseCommand splits a prefixed message into keyword and arguments.
// ok is false for non-command messages.
func ParseCommand(prefix, content string) (keyword string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Dispatch runs the handler for msg, if it is a command this registry knows.
func (r *Registry) Dispatch(ctx context.Context, c *Client, msg *IncomingMessage) {
	keyword, args, ok := ParseCommand(r.prefix, msg.Content)
	if !ok {
		return
	}
	r.mu.RLock()
	h, found := r.handlers[keyword]
	r.mu.RUnlock()
	if !found {
		return
	}
	if err := h(ctx, c, msg, args); err != nil {
		slog.Warn("command failed",
			slog.String("command", keyword),
			slog.String("author_id", msg.AuthorID),
			slog.Any("err", err))
	}
}

// Attach wires the registry into the session's message stream. Handlers run
// off the gateway goroutine so a slow command cannot stall event delivery.
func (r *Registry) Attach(ctx context.Context, c *Client) {
	c.S.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		msg := &IncomingMessage{ChannelID: m.ChannelID, AuthorID: m.Author.ID, Content: m.Content}
		go func() {
			cctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			r.Dispatch(cctx, c, msg)
		}()
	})
}
