package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"

	"github.com/maplenook/guildbot/internal/bot"
)

// BotController is the part of the Discord bot the HTTP layer drives.
type BotController interface {
	Start() error
	Running() bool
}

// ServerDeps holds dependencies for the HTTP handler.
type ServerDeps struct {
	Bot BotController
	// Token guards POST /start_bot when non-empty.
	Token  string
	Logger *slog.Logger
}

// NewHandler returns the health and bootstrap routes. Hosting platforms
// probe "/" and call /start_bot to bring the gateway connection up.
func NewHandler(deps ServerDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/", handleHealth)
	r.Post("/", handleHealth)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(requireToken(deps.Token))
		}
		r.Post("/start_bot", handleStartBot(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleStartBot(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Bot == nil {
			httpText(w, http.StatusServiceUnavailable, "Bot is not configured")
			return
		}
		if deps.Bot.Running() {
			httpText(w, http.StatusOK, "Bot is already running")
			return
		}

		deps.Logger.Info("starting bot from /start_bot")
		err := deps.Bot.Start()
		if errors.Is(err, bot.ErrAlreadyRunning) {
			// Lost a race with another start request or the auto-start.
			httpText(w, http.StatusOK, "Bot is already running")
			return
		}
		if err != nil {
			deps.Logger.Error("error starting bot", tint.Err(err))
			httpText(w, http.StatusInternalServerError, fmt.Sprintf("Error starting bot: %v", err))
			return
		}
		httpText(w, http.StatusOK, "Bot started")
	}
}

func httpText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(msg))
}

// requireToken rejects requests that do not carry "Authorization: Bearer token".
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="guildbot"`)
				httpText(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
