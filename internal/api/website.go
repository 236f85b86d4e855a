package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/RichardoC/tabletalk/internal/llm"
	"github.com/RichardoC/tabletalk/internal/render"
	"github.com/RichardoC/tabletalk/internal/session"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// WebsiteChat is the "Talk with website" application.
type WebsiteChat struct {
	base
	responder llm.Responder
}

func NewWebsiteChat(store TranscriptStore, sessions *session.Manager, responder llm.Responder, logger *zap.Logger) *WebsiteChat {
	h := &WebsiteChat{
		base:      newBase(store, sessions, logger, nil),
		responder: responder,
	}
	sessions.OnExpire(h.expire)
	return h
}

func (h *WebsiteChat) RegisterRoutes(r chi.Router) {
	h.routes(r, h.handleChat, h.handleReset)
	r.Get("/", h.handleIndex)
	r.Post("/config", h.handleConfig)
}

func (h *WebsiteChat) page(r *http.Request, notices ...render.Notice) render.Page {
	st := h.sessions.Get(sessionID(r.Context()))
	return render.Page{
		Title:       "Talk with website",
		Placeholder: "Ask your question here",
		Sidebar:     render.Sidebar{WebsiteURL: true, WebsiteURLText: st.WebsiteURL},
		Notices:     notices,
	}
}

func (h *WebsiteChat) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, h.page(r))
}

func (h *WebsiteChat) handleChat(w http.ResponseWriter, r *http.Request) {
	question := input(r)
	if question == "" {
		h.renderPage(w, r, http.StatusOK, h.page(r))
		return
	}

	ctx := r.Context()
	id := sessionID(ctx)
	history, err := h.store.Transcript(ctx, id)
	if err != nil {
		h.logger.Error("Failed to load transcript", zap.Error(err), zap.String("session", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	reply, err := h.responder.Respond(ctx, llm.Request{
		Question:   question,
		History:    history,
		WebsiteURL: h.sessions.Get(id).WebsiteURL,
	})
	if err != nil {
		h.logger.Error("Failed to generate response", zap.Error(err), zap.String("session", id))
		h.renderPage(w, r, http.StatusInternalServerError,
			h.page(r, render.Notice{Kind: render.Error, Text: "Something went wrong while answering. Please try again."}))
		return
	}

	if err := h.store.Append(ctx, id, question, reply); err != nil {
		h.logger.Error("Failed to save messages", zap.Error(err), zap.String("session", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.renderPage(w, r, http.StatusOK, h.page(r))
}

func (h *WebsiteChat) handleConfig(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.FormValue("website_url"))
	if raw != "" {
		u, err := url.ParseRequestURI(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			h.renderPage(w, r, http.StatusBadRequest,
				h.page(r, render.Notice{Kind: render.Error, Text: "Website URL must be an http or https address."}))
			return
		}
	}
	h.sessions.SetWebsiteURL(sessionID(r.Context()), raw)
	h.renderPage(w, r, http.StatusOK, h.page(r))
}

func (h *WebsiteChat) handleReset(w http.ResponseWriter, r *http.Request) {
	if _, err := h.reset(r); err != nil {
		h.logger.Error("Failed to reset session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
