// Command streamchat connects to a Twitch channel's chat, normalizes the raw
// IRC stream into typed events, and serves them to consumers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Resolves the channel and bot identities through the Helix API.
//   - Runs the chat client: normalization, user directory enrichment,
//     reply threading, and outbound sending with self-message correlation.
//   - Exposes an HTTP server with /healthz, /status, /metrics, /history,
//     a live /events SSE stream and a /send endpoint.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/streamchat/chat"
	"github.com/onnwee/streamchat/config"
	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/events"
	"github.com/onnwee/streamchat/server"
	"github.com/onnwee/streamchat/spans"
	"github.com/onnwee/streamchat/telemetry"
	"github.com/onnwee/streamchat/thread"
	"github.com/onnwee/streamchat/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

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
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamchat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Helix client and token refresh, when credentials are configured. Without
	// them the chat connection is anonymous and read-only.
	var (
		api    *twitchapi.Client
		tokens *twitchapi.UserTokenSource
	)
	accessToken := strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:")
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("running read-only", slog.Any("reason", err))
	} else {
		api, err = twitchapi.New(twitchapi.Options{
			ClientID:    cfg.TwitchClientID,
			AccessToken: accessToken,
			RetryBudget: cfg.RetryBudget,
		})
		if err != nil {
			slog.Error("helix client init failed", slog.Any("err", err))
			os.Exit(1)
		}
		if cfg.TwitchRefreshToken != "" && cfg.TwitchClientSecret != "" {
			tokens = twitchapi.NewUserTokenSource(cfg.TwitchClientID, cfg.TwitchClientSecret, accessToken, cfg.TwitchRefreshToken)
			tokens.OnRefresh = api.SetAccessToken
		} else {
			slog.Warn("no refresh token configured; expired chat credentials will be fatal")
		}
	}

	// Resolve channel and bot ids unless provided.
	channelID := cfg.TwitchChannelID
	selfID := cfg.TwitchBotUserID
	if api != nil && (channelID == "" || selfID == "") {
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		logins := []string{cfg.TwitchChannel}
		if cfg.TwitchBotUsername != "" && !strings.EqualFold(cfg.TwitchBotUsername, cfg.TwitchChannel) {
			logins = append(logins, cfg.TwitchBotUsername)
		}
		users, err := api.UsersByLogin(lookupCtx, logins)
		cancel()
		if err != nil {
			slog.Warn("identity lookup failed; follower checks disabled", slog.Any("err", err))
		}
		for _, u := range users {
			if strings.EqualFold(u.Login, cfg.TwitchChannel) && channelID == "" {
				channelID = u.ID
			}
			if strings.EqualFold(u.Login, cfg.TwitchBotUsername) && selfID == "" {
				selfID = u.ID
			}
		}
	}

	// Chat core
	var remote directory.RemoteAPI
	if api != nil {
		remote = api
	}
	dir := directory.New(remote, channelID)
	dir.LookupDelay = cfg.LookupDelay
	bus := events.NewBus()
	threads := thread.New(cfg.ThreadWindow, cfg.HistoryLimit)
	correlator := chat.NewCorrelator(cfg.CorrelatorLimit)
	normalizer := chat.NewNormalizer(dir, spans.NewParser(), threads, correlator, cfg.TwitchChannel, channelID, cfg.TwitchBotUsername)

	// Best-effort bootstrap: blocked user list and cheermote tiers.
	if api != nil && channelID != "" {
		bootCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if ids, err := api.BlockedUsers(bootCtx, channelID); err != nil {
			slog.Warn("blocked users seed failed", slog.Any("err", err))
		} else {
			dir.SeedBlocked("twitch", ids)
		}
		if sets, err := api.Cheermotes(bootCtx, channelID); err != nil {
			slog.Warn("cheermotes load failed", slog.Any("err", err))
		} else {
			normalizer.SetCheermotes(sets)
		}
		cancel()
	}

	client := chat.NewClient(chat.Config{
		Username:   cfg.TwitchBotUsername,
		OAuthToken: cfg.TwitchOAuthToken,
		Channel:    cfg.TwitchChannel,
		ChannelID:  channelID,
		SelfID:     selfID,
	}, normalizer, bus, api, tokens)

	go func() {
		if err := client.Run(ctx); err != nil {
			slog.Error("chat client exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/events/send)
	handlers := server.NewHandlers(server.Deps{
		Bus:             bus,
		Directory:       dir,
		Threads:         threads,
		Sender:          client,
		CorrelatorDepth: correlator.Depth,
		Ready: func() error {
			if !client.Connected() {
				return errors.New("chat disconnected")
			}
			return nil
		},
		Channel: cfg.TwitchChannel,
	})
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
