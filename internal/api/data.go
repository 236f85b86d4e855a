package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/RichardoC/tabletalk/internal/llm"
	"github.com/RichardoC/tabletalk/internal/render"
	"github.com/RichardoC/tabletalk/internal/session"
	"github.com/RichardoC/tabletalk/internal/table"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	noticeMissingKey     = "Please add your OpenAI API key to continue."
	noticeMissingTable   = "Please upload a data file to continue."
	noticeFailure        = "Something went wrong while answering. Please try again."
	noticeBinaryWorkbook = "Binary Excel workbooks (.xlsb) are recognised but cannot be read. Save the file as .xlsx or .csv and upload it again."
)

// DataChat is the "Chat with your data" application.
type DataChat struct {
	base
	loader    *table.CachedLoader
	responder llm.Responder
	maxUpload int64
}

func NewDataChat(store TranscriptStore, sessions *session.Manager, loader *table.CachedLoader, responder llm.Responder, maxUpload int64, logger *zap.Logger) *DataChat {
	h := &DataChat{
		loader:    loader,
		responder: responder,
		maxUpload: maxUpload,
	}
	h.base = newBase(store, sessions, logger, h.releaseUpload)
	sessions.OnExpire(h.expire)
	return h
}

// releaseUpload drops the cached frame of a session's upload and sweeps other
// expired frames.
func (h *DataChat) releaseUpload(st session.State) {
	if st.Upload != nil {
		h.loader.Forget(st.Upload.Key)
	}
	h.loader.Sweep()
}

func (h *DataChat) RegisterRoutes(r chi.Router) {
	h.routes(r, h.handleChat, h.handleReset)
	r.Get("/", h.handleIndex)
	r.Post("/key", h.handleKey)
	r.Post("/upload", h.handleUpload)
}

func (h *DataChat) page(r *http.Request, notices ...render.Notice) render.Page {
	st := h.sessions.Get(sessionID(r.Context()))
	sidebar := render.Sidebar{
		DataUpload:    true,
		Accept:        table.Extensions(),
		HasCredential: st.HasCredential(),
	}
	if st.Upload != nil {
		sidebar.UploadName = st.Upload.Name
	}
	return render.Page{
		Title:       "Chat with your data",
		Placeholder: "What is this data about?",
		Sidebar:     sidebar,
		Notices:     notices,
	}
}

func (h *DataChat) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, h.page(r))
}

func (h *DataChat) handleKey(w http.ResponseWriter, r *http.Request) {
	h.sessions.SetCredential(sessionID(r.Context()), r.FormValue("api_key"))
	h.renderPage(w, r, http.StatusOK, h.page(r))
}

func (h *DataChat) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.renderPage(w, r, http.StatusRequestEntityTooLarge,
				h.page(r, render.Notice{Kind: render.Error, Text: fmt.Sprintf("File is larger than %d bytes.", h.maxUpload)}))
			return
		}
		h.renderPage(w, r, http.StatusBadRequest,
			h.page(r, render.Notice{Kind: render.Error, Text: "Choose a file to upload."}))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err), zap.String("session", id))
		h.renderPage(w, r, http.StatusBadRequest,
			h.page(r, render.Notice{Kind: render.Error, Text: "Could not read the uploaded file."}))
		return
	}

	name := filepath.Base(header.Filename)
	frame, key, hit, err := h.loader.Load(r.Context(), id, name, data)
	if err != nil {
		var unsupported *table.UnsupportedFormatError
		if errors.As(err, &unsupported) {
			h.renderPage(w, r, http.StatusOK,
				h.page(r, render.Notice{Kind: render.Error, Text: fmt.Sprintf("Unsupported file format: %s", unsupported.Ext)}))
			return
		}
		if errors.Is(err, table.ErrBinaryWorkbook) {
			h.renderPage(w, r, http.StatusUnprocessableEntity,
				h.page(r, render.Notice{Kind: render.Error, Text: noticeBinaryWorkbook}))
			return
		}
		h.logger.Warn("Failed to parse upload", zap.Error(err), zap.String("session", id), zap.String("file", name))
		h.renderPage(w, r, http.StatusUnprocessableEntity,
			h.page(r, render.Notice{Kind: render.Error, Text: fmt.Sprintf("Could not read %s: %v", name, err)}))
		return
	}

	if prev := h.sessions.SetUpload(id, session.Upload{Name: name, Data: data, Key: key}); prev != nil && prev.Key != key {
		h.loader.Forget(prev.Key)
	}
	tbl := frame.Table()
	h.logger.Info("Loaded upload",
		zap.String("session", id),
		zap.String("file", name),
		zap.Int("rows", tbl.Len()),
		zap.Int("columns", len(tbl.Columns)),
		zap.Bool("cache_hit", hit))

	h.renderPage(w, r, http.StatusOK, h.page(r, render.Notice{
		Kind: render.Info,
		Text: fmt.Sprintf("Loaded %s: %d rows, %d columns.", name, tbl.Len(), len(tbl.Columns)),
	}))
}

func (h *DataChat) handleChat(w http.ResponseWriter, r *http.Request) {
	question := input(r)
	if question == "" {
		h.renderPage(w, r, http.StatusOK, h.page(r))
		return
	}

	ctx := r.Context()
	id := sessionID(ctx)
	st := h.sessions.Get(id)

	// Cycles that end early keep the question in the transcript.
	unanswered := func(status int, notice render.Notice) {
		if err := h.store.AppendUnanswered(ctx, id, question); err != nil {
			h.logger.Error("Failed to save message", zap.Error(err), zap.String("session", id))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		h.renderPage(w, r, status, h.page(r, notice))
	}

	if !st.HasCredential() {
		unanswered(http.StatusOK, render.Notice{Kind: render.Info, Text: noticeMissingKey})
		return
	}
	if st.Upload == nil {
		unanswered(http.StatusOK, render.Notice{Kind: render.Info, Text: noticeMissingTable})
		return
	}

	frame, _, _, err := h.loader.Load(ctx, id, st.Upload.Name, st.Upload.Data)
	if err != nil {
		h.logger.Error("Failed to reload upload", zap.Error(err), zap.String("session", id))
		unanswered(http.StatusInternalServerError, render.Notice{Kind: render.Error, Text: noticeFailure})
		return
	}

	history, err := h.store.Transcript(ctx, id)
	if err != nil {
		h.logger.Error("Failed to load transcript", zap.Error(err), zap.String("session", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	reply, err := h.responder.Respond(ctx, llm.Request{
		Question:   question,
		History:    history,
		Frame:      frame,
		TableName:  st.Upload.Name,
		Credential: st.Credential,
	})
	if err != nil {
		h.logger.Error("Failed to generate response", zap.Error(err), zap.String("session", id))
		unanswered(http.StatusInternalServerError, render.Notice{Kind: render.Error, Text: noticeFailure})
		return
	}

	if err := h.store.Append(ctx, id, question, reply); err != nil {
		h.logger.Error("Failed to save messages", zap.Error(err), zap.String("session", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.renderPage(w, r, http.StatusOK, h.page(r))
}

func (h *DataChat) handleReset(w http.ResponseWriter, r *http.Request) {
	st, err := h.reset(r)
	if err != nil {
		h.logger.Error("Failed to reset session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if st.Upload != nil {
		h.loader.Forget(st.Upload.Key)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
