package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sjawhar/jarvis/internal/chat"
	"github.com/sjawhar/jarvis/internal/hologram"
	"github.com/sjawhar/jarvis/internal/profile"
	"github.com/sjawhar/jarvis/internal/session"
	"github.com/sjawhar/jarvis/internal/storage"
	"github.com/sjawhar/jarvis/internal/theme"
)

// maxBodyBytes bounds request bodies; messages may carry an inline image.
const maxBodyBytes = 16 << 20

type Profiles interface {
	Login(username string) (*profile.User, error)
	Logout() error
	SetTheme(name string) (*profile.User, error)
	Current() *profile.User
}

type Chat interface {
	History(identity string) ([]chat.Message, error)
	Send(ctx context.Context, identity, text, image string) (chat.Message, error)
	Project(ctx context.Context, identity, subject string) error
}

type Projection interface {
	Current() *hologram.State
	Clear()
}

type Voice interface {
	Start(ctx context.Context) error
	Stop() error
	SendText(text string) error
	State() session.State
}

type VoiceLog interface {
	ListVoiceSessions(limit int) ([]storage.VoiceSession, error)
}

// Deps are the services behind the HTTP surface. Nil members disable their
// routes with 503.
type Deps struct {
	Profiles   Profiles
	Chat       Chat
	Projection Projection
	Voice      Voice
	VoiceLog   VoiceLog
	Metrics    http.Handler
	Warnings   func() []string
}

func registerAPIRoutes(mux *http.ServeMux, hub *Hub, deps Deps) {
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Profiles != nil) {
			return
		}
		var body struct {
			Username string `json:"username"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		user, err := deps.Profiles.Login(body.Username)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, user)
	})

	mux.HandleFunc("POST /api/logout", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Profiles != nil) {
			return
		}
		if err := deps.Profiles.Logout(); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/me", func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":  user,
			"theme": theme.Resolve(user.PreferredTheme),
		})
	})

	mux.HandleFunc("GET /api/themes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, theme.All())
	})

	mux.HandleFunc("PUT /api/theme", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Profiles != nil) {
			return
		}
		var body struct {
			Theme string `json:"theme"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		user, err := deps.Profiles.SetTheme(body.Theme)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		hub.Logf("THEME_SHIFT: %s", user.PreferredTheme)
		writeJSON(w, http.StatusOK, user)
	})

	mux.HandleFunc("GET /api/messages", func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, deps)
		if !ok || !available(w, deps.Chat != nil) {
			return
		}
		msgs, err := deps.Chat.History(user.Username)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load history: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	})

	mux.HandleFunc("POST /api/messages", func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, deps)
		if !ok || !available(w, deps.Chat != nil) {
			return
		}
		var body struct {
			Text  string `json:"text"`
			Image string `json:"image"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		reply, err := deps.Chat.Send(r.Context(), user.Username, body.Text, body.Image)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reply)
	})

	mux.HandleFunc("GET /api/hologram", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Projection != nil) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hologram": deps.Projection.Current()})
	})

	mux.HandleFunc("POST /api/hologram", func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, deps)
		if !ok || !available(w, deps.Chat != nil && deps.Projection != nil) {
			return
		}
		var body struct {
			Subject string `json:"subject"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := deps.Chat.Project(r.Context(), user.Username, body.Subject); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hologram": deps.Projection.Current()})
	})

	mux.HandleFunc("DELETE /api/hologram", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Projection != nil) {
			return
		}
		deps.Projection.Clear()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/voice", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Voice != nil) {
			return
		}
		writeJSON(w, http.StatusOK, deps.Voice.State())
	})

	mux.HandleFunc("POST /api/voice/start", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(w, deps); !ok || !available(w, deps.Voice != nil) {
			return
		}
		if err := deps.Voice.Start(r.Context()); err != nil {
			hub.Logf("VOICE_ERR: %v", err)
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, deps.Voice.State())
	})

	mux.HandleFunc("POST /api/voice/stop", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Voice != nil) {
			return
		}
		if err := deps.Voice.Stop(); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/voice/text", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.Voice != nil) {
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, chat.ErrEmptyMessage.Error())
			return
		}
		if err := deps.Voice.SendText(body.Text); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /api/voice/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !available(w, deps.VoiceLog != nil) {
			return
		}
		sessions, err := deps.VoiceLog.ListVoiceSessions(50)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list voice sessions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("GET /api/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Logs())
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if deps.Warnings != nil {
			warnings = deps.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
	})
}

func currentUser(w http.ResponseWriter, deps Deps) (*profile.User, bool) {
	if !available(w, deps.Profiles != nil) {
		return nil, false
	}
	user := deps.Profiles.Current()
	if user == nil {
		writeJSONError(w, http.StatusUnauthorized, profile.ErrNotLoggedIn.Error())
		return nil, false
	}
	return user, true
}

func available(w http.ResponseWriter, ok bool) bool {
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "service not configured")
	}
	return ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, profile.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, profile.ErrEmptyUsername),
		errors.Is(err, profile.ErrUnknownTheme),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidImage),
		errors.Is(err, hologram.ErrNoSubject):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyActive),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrAborted):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
