package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/pkg/types"
)

// Store is the persistence surface the HTTP API reads and mutates directly.
// Generation-coupled mutations (send, cancel, model select) go through Chat
// instead so they compose with the active session.
type Store interface {
	Models(ctx context.Context) ([]types.ModelFile, error)
	Model(ctx context.Context, id uuid.UUID) (types.ModelFile, error)
	CreateConversation(ctx context.Context, title string, modelID *uuid.UUID) (types.Conversation, error)
	Conversations(ctx context.Context) ([]types.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID) (types.Conversation, error)
	RenameConversation(ctx context.Context, id uuid.UUID, title string) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, convID uuid.UUID) ([]types.Message, error)
	Message(ctx context.Context, id uuid.UUID) (types.Message, error)
	Update(ctx context.Context, id uuid.UUID, newText string) error
	DeleteFromHere(ctx context.Context, id uuid.UUID) error
	TruncateOutdated(ctx context.Context, convID uuid.UUID) error
}

// Chat drives generation sessions.
type Chat interface {
	Send(ctx context.Context, convID uuid.UUID, text string) error
	Cancel(convID uuid.UUID) bool
	CanSend(ctx context.Context, convID uuid.UUID, text string) (bool, error)
	SelectModel(ctx context.Context, convID uuid.UUID, modelID *uuid.UUID) error
	Status(convID uuid.UUID) types.SessionStatus
}

// Importer rescans the models directory into the store.
type Importer func(ctx context.Context) (int, error)

// Deps wires the API's collaborators.
type Deps struct {
	Store  Store
	Chat   Chat
	Import Importer
	// Ready gates /readyz; nil means always ready.
	Ready func() bool
}

var validate = validator.New()

// NewMux builds the chi router serving the chat API.
func NewMux(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	s := &server{d: d}

	r.Get("/models", s.listModels)
	r.Post("/models/refresh", s.refreshModels)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Post("/", s.createConversation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getConversation)
			r.Put("/", s.renameConversation)
			r.Delete("/", s.deleteConversation)
			r.Get("/messages", s.listMessages)
			r.Post("/send", s.send)
			r.Post("/cancel", s.cancel)
			r.Put("/model", s.selectModel)
			r.Get("/state", s.state)
			r.Post("/truncate-outdated", s.truncateOutdated)
		})
	})

	r.Route("/messages/{id}", func(r chi.Router) {
		r.Put("/", s.editMessage)
		r.Delete("/", s.deleteFromHere)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready == nil || d.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

type server struct {
	d Deps
}

// decodeJSON enforces content type and body size, decodes into v, and runs
// struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// listModels godoc
// @Summary List discovered models
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /models [get]
func (s *server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.d.Store.Models(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

// refreshModels godoc
// @Summary Rescan the models directory
// @Produce json
// @Success 200 {object} map[string]int
// @Router /models/refresh [post]
func (s *server) refreshModels(w http.ResponseWriter, r *http.Request) {
	if s.d.Import == nil {
		writeJSONError(w, http.StatusNotImplemented, "model refresh not configured")
		return
	}
	n, err := s.d.Import(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.d.Store.Conversations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ConversationsResponse{Conversations: convs})
}

// createConversation godoc
// @Summary Create a conversation
// @Accept json
// @Produce json
// @Param request body types.CreateConversationRequest true "conversation"
// @Success 201 {object} types.Conversation
// @Router /conversations [post]
func (s *server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req types.CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conv, err := s.d.Store.CreateConversation(r.Context(), req.Title, req.ModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *server) getConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conv, err := s.d.Store.Conversation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *server) renameConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req types.RenameConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.d.Store.RenameConversation(r.Context(), id, req.Title); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// Stop any in-flight generation before the rows disappear.
	s.d.Chat.Cancel(id)
	if err := s.d.Store.DeleteConversation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.d.Store.Conversation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.d.Store.Messages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessagesResponse{Messages: msgs})
}

// send godoc
// @Summary Start a generation turn
// @Description Appends the user message and streams the reply into a
// @Description placeholder message. Returns 202 immediately; poll the
// @Description conversation's messages and state for progress.
// @Accept json
// @Param id path string true "conversation id"
// @Param request body types.SendRequest true "message"
// @Success 202
// @Router /conversations/{id}/send [post]
func (s *server) send(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req types.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Surface unmet preconditions to HTTP callers; the service itself treats
	// them as silent no-ops.
	okToSend, err := s.d.Chat.CanSend(r.Context(), id, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	if !okToSend {
		writeJSONError(w, http.StatusUnprocessableEntity, "nothing to send: empty text or no model selected")
		return
	}
	// Join with the server context so shutdown cancels the synchronous
	// appends, but a closed client connection does not.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := s.d.Chat.Send(ctx, id, req.Text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.d.Chat.Cancel(id)})
}

func (s *server) selectModel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req types.SelectModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ModelID != nil {
		if _, err := s.d.Store.Model(r.Context(), *req.ModelID); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.d.Chat.SelectModel(r.Context(), id, req.ModelID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// state godoc
// @Summary Generation state of a conversation
// @Produce json
// @Success 200 {object} types.SessionStatus
// @Router /conversations/{id}/state [get]
func (s *server) state(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.d.Store.Conversation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.d.Chat.Status(id))
}

func (s *server) truncateOutdated(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.d.Chat.Cancel(id)
	if err := s.d.Store.TruncateOutdated(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// editMessage godoc
// @Summary Edit a message in place
// @Description Replaces the text and marks every later message in the
// @Description conversation outdated.
// @Accept json
// @Router /messages/{id} [put]
func (s *server) editMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req types.EditMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.d.Store.Message(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// Editing invalidates the suffix; stop any stream writing into it.
	s.d.Chat.Cancel(msg.ConversationID)
	if err := s.d.Store.Update(r.Context(), id, req.Text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteFromHere godoc
// @Summary Delete a message and everything after it
// @Router /messages/{id} [delete]
func (s *server) deleteFromHere(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msg, err := s.d.Store.Message(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// The suffix may include a placeholder that is still being streamed into.
	s.d.Chat.Cancel(msg.ConversationID)
	if err := s.d.Store.DeleteFromHere(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
