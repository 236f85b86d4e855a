package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/RichardoC/tabletalk/internal/models"
	"github.com/RichardoC/tabletalk/internal/render"
	"github.com/RichardoC/tabletalk/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sessionCookie = "tabletalk_session"

// TranscriptStore persists the ordered messages of each session.
type TranscriptStore interface {
	Transcript(ctx context.Context, sessionID string) ([]models.Message, error)
	Append(ctx context.Context, sessionID, user, assistant string) error
	AppendUnanswered(ctx context.Context, sessionID, user string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// base holds what both chat applications share.
type base struct {
	store    TranscriptStore
	sessions *session.Manager
	logger   *zap.Logger
	// release frees anything beyond the transcript an expired session held.
	release func(st session.State)
}

func newBase(store TranscriptStore, sessions *session.Manager, logger *zap.Logger, release func(session.State)) base {
	return base{store: store, sessions: sessions, logger: logger, release: release}
}

// expire drops the transcript and in-memory resources of an idle session.
func (b *base) expire(id string, st session.State) {
	if err := b.store.DeleteSession(context.Background(), id); err != nil {
		b.logger.Error("Failed to delete expired session", zap.Error(err), zap.String("session", id))
	}
	if b.release != nil {
		b.release(st)
	}
	b.logger.Debug("Session expired", zap.String("session", id))
}

// trackSession keeps the session alive and lets the manager expire idle ones.
func (b *base) trackSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.sessions.Touch(sessionID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

type sessionKey struct{}

// withSession attaches a session ID to the request, issuing a cookie for new
// visitors.
func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
	})
}

func sessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// input returns the submitted chat message, or "" when it is blank.
func input(r *http.Request) string {
	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		return ""
	}
	return msg
}

// renderPage draws the session's transcript with page decorations.
func (b *base) renderPage(w http.ResponseWriter, r *http.Request, status int, page render.Page) {
	id := sessionID(r.Context())
	messages, err := b.store.Transcript(r.Context(), id)
	if err != nil {
		b.logger.Error("Failed to load transcript", zap.Error(err), zap.String("session", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	page.Messages = messages

	var buf bytes.Buffer
	if err := render.Render(&buf, page); err != nil {
		b.logger.Error("Failed to render page", zap.Error(err), zap.String("session", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		b.logger.Debug("Failed to write page", zap.Error(err))
	}
}

func (b *base) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r.Context())
	messages, err := b.store.Transcript(r.Context(), id)
	if err != nil {
		b.logger.Error("Failed to get messages", zap.Error(err), zap.String("session", id))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

// reset ends the session's transcript and in-memory state; the next access
// starts a new seeded transcript.
func (b *base) reset(r *http.Request) (session.State, error) {
	id := sessionID(r.Context())
	if err := b.store.DeleteSession(r.Context(), id); err != nil {
		return session.State{}, err
	}
	st, _ := b.sessions.Delete(id)
	return st, nil
}

// routes registers the session tracker and the shared endpoints. It must run
// before any other route is added to r.
func (b *base) routes(r chi.Router, chat, reset http.HandlerFunc) {
	r.Use(b.trackSession)
	r.Post("/chat", chat)
	r.Post("/reset", reset)
	r.Get("/api/messages", b.handleMessages)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
