package discord

import (
	"context"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		content  string
		wantKey  string
		wantArgs []string
		wantOK   bool
	}{
		{"simple", ";", ";verify", "verify", nil, true},
		{"with args", ";", ";send <#123> hello world", "send", []string{"<#123>", "hello", "world"}, true},
		{"keyword lowered", ";", ";VERIFY", "verify", nil, true},
		{"no prefix", ";", "verify", "", nil, false},
		{"prefix only", ";", ";", "", nil, false},
		{"prefix with spaces", ";", ";   ", "", nil, false},
		{"different prefix", "!", ";verify", "", nil, false},
		{"empty prefix never matches", "", "verify", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, args, ok := ParseCommand(tt.prefix, tt.content)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Fatalf("ParseCommand(%q, %q) = %q, %v, %v; want %q, %v, %v",
					tt.prefix, tt.content, key, args, ok, tt.wantKey, tt.wantArgs, tt.wantOK)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("args[%d] = %q, want %q", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(";")
	var gotArgs []string
	r.Register("Ping", func(_ context.Context, _ *Client, _ *IncomingMessage, args []string) error {
		gotArgs = args
		return nil
	})
	if r.Size() != 1 {
		t.Fatalf("Size = %d, want 1", r.Size())
	}

	r.Dispatch(context.Background(), nil, &IncomingMessage{AuthorID: "1", Content: ";ping a b"})
	if len(gotArgs) != 2 || gotArgs[0] != "a" || gotArgs[1] != "b" {
		t.Errorf("handler args = %v, want [a b]", gotArgs)
	}

	// Unknown keywords and plain chatter are ignored.
	gotArgs = nil
	r.Dispatch(context.Background(), nil, &IncomingMessage{AuthorID: "1", Content: ";unknown"})
	r.Dispatch(context.Background(), nil, &IncomingMessage{AuthorID: "1", Content: "hello"})
	if gotArgs != nil {
		t.Errorf("unexpected dispatch: %v", gotArgs)
	}
}

func TestParseMentions(t *testing.T) {
	if id, ok := parseChannelMention("<#4567>"); !ok || id != "4567" {
		t.Errorf("parseChannelMention = %q, %v", id, ok)
	}
	if _, ok := parseChannelMention("#general"); ok {
		t.Error("plain text must not parse as channel mention")
	}
	if id, ok := parseUserMention("<@123>"); !ok || id != "123" {
		t.Errorf("parseUserMention = %q, %v", id, ok)
	}
	if id, ok := parseUserMention("<@!123>"); !ok || id != "123" {
		t.Errorf("parseUserMention nick form = %q, %v", id, ok)
	}
	if _, ok := parseUserMention("<#123>"); ok {
		t.Error("channel mention must not parse as user mention")
	}
}
