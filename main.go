// Command guild-tender is the main entrypoint for the community bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Connects to the Discord gateway and starts the custom voice channel
//     manager and the chat-command registry.
//   - Exposes an HTTP server with the OAuth verification endpoints,
//     /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/guild-tender/auth"
	"github.com/onnwee/guild-tender/config"
	"github.com/onnwee/guild-tender/crypto"
	"github.com/onnwee/guild-tender/db"
	"github.com/onnwee/guild-tender/discord"
	"github.com/onnwee/guild-tender/roles"
	"github.com/onnwee/guild-tender/server"
	"github.com/onnwee/guild-tender/telemetry"
	"github.com/onnwee/guild-tender/usermap"
	"github.com/onnwee/guild-tender/voice"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("guild-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to the embedded schema for
	// deployments created before the migrations directory existed.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Discord gateway
	client, err := discord.New(cfg.DiscordToken, cfg.GuildID)
	if err != nil {
		slog.Error("discord client init failed", slog.Any("err", err))
		os.Exit(1)
	}
	client.LogGatewayEvents()

	// Custom voice channel manager
	mgr := voice.NewManager(client, voice.Config{
		TriggerChannelID: cfg.TriggerChannelID,
		AutoDeleteDelay:  cfg.AutoDeleteDelay,
	})
	client.OnVoiceStateUpdate(func(memberID, before, after string) {
		mgr.HandleVoiceState(ctx, memberID, before, after)
	})

	// Verification service
	if err := cfg.ValidateOAuthReady(); err != nil {
		slog.Warn("verification disabled", slog.Any("err", err))
	}
	svc := &auth.Service{
		OAuth: &auth.OAuthClient{Config: auth.OAuthConfig{
			ClientID:      cfg.OAuthClientID,
			ClientSecret:  cfg.OAuthClientSecret,
			AuthorizeURL:  cfg.OAuthAuthorizeURL,
			TokenURL:      cfg.OAuthTokenURL,
			CheckTokenURL: cfg.OAuthCheckURL,
		}},
		Store:    &db.VerificationStore{DB: database},
		Resolver: &usermap.Client{BaseURL: cfg.UsermapBaseURL},
		Mapper:   roles.NewMapper(cfg.RoleMap),
		Granter:  client,
		Hasher:   crypto.NewHasher(os.Getenv("AUTH_HASH_SALT")),
	}

	// Chat commands
	registry := discord.NewRegistry(cfg.CommandPrefix)
	cmds := &discord.BotCommands{Voice: mgr, PublicBaseURL: cfg.PublicBaseURL}
	cmds.RegisterAll(registry)
	registry.Attach(ctx, client)

	if err := client.Open(); err != nil {
		slog.Error("discord gateway connect failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("discord gateway close failed", slog.Any("err", err))
		}
	}()

	if err := mgr.Start(ctx); err != nil {
		slog.Error("voice manager start failed", slog.Any("err", err))
		os.Exit(1)
	}

	// HTTP server (verification flow, health, status, metrics)
	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = cfg.PublicBaseURL + "/auth/callback"
	}
	handlers := server.NewHandlers(database, svc, redirectURI)
	handlers.GatewayReady = func() bool { return client.S.DataReady }
	handlers.ManagedChannels = mgr.ManagedCount
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("guild-tender running",
		slog.String("guild_id", cfg.GuildID),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.Int("commands", registry.Size()))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
