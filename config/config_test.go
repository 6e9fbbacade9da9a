package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COMMAND_PREFIX", "")
	t.Setenv("VOICE_AUTO_DELETE_SECONDS", "")
	t.Setenv("OAUTH_TOKEN_URL", "")
	t.Setenv("DB_DSN", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CommandPrefix != ";" {
		t.Errorf("CommandPrefix = %q, want %q", cfg.CommandPrefix, ";")
	}
	if cfg.AutoDeleteDelay != 30*time.Second {
		t.Errorf("AutoDeleteDelay = %v, want 30s", cfg.AutoDeleteDelay)
	}
	if cfg.OAuthTokenURL != "https://auth.fit.cvut.cz/oauth/token" {
		t.Errorf("OAuthTokenURL = %q", cfg.OAuthTokenURL)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn should have a default")
	}
}

func TestLoadAutoDeleteSeconds(t *testing.T) {
	t.Setenv("VOICE_AUTO_DELETE_SECONDS", "90")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AutoDeleteDelay != 90*time.Second {
		t.Errorf("AutoDeleteDelay = %v, want 90s", cfg.AutoDeleteDelay)
	}

	t.Setenv("VOICE_AUTO_DELETE_SECONDS", "nope")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric VOICE_AUTO_DELETE_SECONDS")
	}
}

func TestParseRoleMap(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string][]string
	}{
		{
			name: "empty",
			raw:  "",
			want: map[string][]string{},
		},
		{
			name: "single entitlement single role",
			raw:  "B-18000-SUMA-STUDENT=111",
			want: map[string][]string{"B-18000-SUMA-STUDENT": {"111"}},
		},
		{
			name: "multiple roles and entitlements",
			raw:  "student=111|222,teacher=333",
			want: map[string][]string{"student": {"111", "222"}, "teacher": {"333"}},
		},
		{
			name: "malformed entries skipped",
			raw:  "noequals,=222,ok=444,empty=",
			want: map[string][]string{"ok": {"444"}},
		},
		{
			name: "whitespace trimmed",
			raw:  " student = 111 | 222 ",
			want: map[string][]string{"student": {"111", "222"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRoleMap(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseRoleMap(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for k, ids := range tt.want {
				gotIDs, ok := got[k]
				if !ok || len(gotIDs) != len(ids) {
					t.Fatalf("ParseRoleMap(%q)[%s] = %v, want %v", tt.raw, k, gotIDs, ids)
				}
				for i := range ids {
					if gotIDs[i] != ids[i] {
						t.Errorf("ParseRoleMap(%q)[%s][%d] = %s, want %s", tt.raw, k, i, gotIDs[i], ids[i])
					}
				}
			}
		})
	}
}

func TestValidateDiscordReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateDiscordReady(); err == nil {
		t.Error("expected error with empty discord config")
	}
	cfg.DiscordToken = "tok"
	cfg.GuildID = "1"
	cfg.TriggerChannelID = "100"
	if err := cfg.ValidateDiscordReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateOAuthReady(t *testing.T) {
	cfg := &Config{OAuthClientID: "id"}
	if err := cfg.ValidateOAuthReady(); err == nil {
		t.Error("expected error without client secret")
	}
	cfg.OAuthClientSecret = "secret"
	if err := cfg.ValidateOAuthReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
