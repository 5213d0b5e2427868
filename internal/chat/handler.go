package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	myMiddleware "go-messenger/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// Handler exposes the three websocket channels and the REST API of the
// messaging core.
type Handler struct {
	svc       *Service
	log       *slog.Logger
	queueSize int
	pageSize  int
	validate  *validator.Validate
}

func NewHandler(svc *Service, log *slog.Logger, queueSize, pageSize int) *Handler {
	return &Handler{
		svc:       svc,
		log:       log,
		queueSize: queueSize,
		pageSize:  pageSize,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes mounts every messaging endpoint on a router that already carries
// the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws/conversations/{conversationID}", h.ServeConversationWS)
	r.Get("/ws/notifications", h.ServeNotificationWS)
	r.Get("/ws/status", h.ServeStatusWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations/{conversationID}", h.GetConversation)
		r.Delete("/conversations/{conversationID}", h.DeactivateConversation)
		r.Get("/conversations/{conversationID}/messages", h.ListMessages)
		r.Post("/conversations/{conversationID}/messages", h.PostMessage)
		r.Get("/conversations/{conversationID}/messages/{messageID}/reactions", h.ListReactions)
		r.Post("/conversations/{conversationID}/messages/{messageID}/reactions", h.AddReaction)
		r.Delete("/conversations/{conversationID}/messages/{messageID}/reactions", h.RemoveReaction)
		r.Delete("/messages/{messageID}", h.DeleteMessage)
		r.Get("/messages/search", h.SearchMessages)
		r.Get("/messages/stats", h.MessageStats)
		r.Get("/status", h.GetStatus)
		r.Post("/status", h.SetStatus)
		r.Get("/users/online", h.OnlineUsers)
	})
}

// ---------------------------------------------
// 🔌 WebSocket endpoints
// ---------------------------------------------

// ServeConversationWS opens the chat channel for one conversation. The
// participant check runs before the upgrade, so an outsider is refused with
// 403 and never reaches a room.
func (h *Handler) ServeConversationWS(w http.ResponseWriter, r *http.Request) {
	userID, email, name, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	c, err := h.svc.GetConversation(r.Context(), userID, conversationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !c.IsActive {
		http.Error(w, "conversation is no longer active", http.StatusGone)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	sess := newSession(kindConversation, conn, h.svc, h.queueSize, userID, email, name)
	sess.ConversationID = conversationID

	if err := h.svc.AttachConversation(r.Context(), sess); err != nil {
		// The pre-upgrade check normally catches this; losing the race just
		// closes the fresh socket.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "forbidden"))
		conn.Close()
		return
	}

	go sess.writePump()
	go sess.readPump()
}

// ServeNotificationWS opens the user-scoped push channel.
func (h *Handler) ServeNotificationWS(w http.ResponseWriter, r *http.Request) {
	userID, email, name, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	sess := newSession(kindNotification, conn, h.svc, h.queueSize, userID, email, name)
	h.svc.AttachNotification(sess)

	go sess.writePump()
	go sess.readPump()
}

// ServeStatusWS opens the global presence channel.
func (h *Handler) ServeStatusWS(w http.ResponseWriter, r *http.Request) {
	userID, email, name, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	sess := newSession(kindStatus, conn, h.svc, h.queueSize, userID, email, name)
	h.svc.AttachStatus(sess)

	go sess.writePump()
	go sess.readPump()
}

// ---------------------------------------------
// 🌐 REST endpoints
// ---------------------------------------------

type createConversationRequest struct {
	Title          string  `json:"title" validate:"max=200"`
	Type           string  `json:"conversation_type" validate:"required,oneof=direct group support announcement"`
	ParticipantIDs []int64 `json:"participant_ids" validate:"required,min=1"`
}

type postMessageRequest struct {
	Type       string `json:"message_type,omitempty" validate:"omitempty,oneof=text file image system"`
	Content    string `json:"content,omitempty"`
	Attachment string `json:"attachment,omitempty" validate:"max=500"`
	ReplyTo    *int64 `json:"reply_to,omitempty"`
}

type reactionRequest struct {
	Type string `json:"reaction_type" validate:"required,oneof=like love laugh wow sad angry"`
}

type statusRequest struct {
	Status        string `json:"status" validate:"required,oneof=online away busy offline"`
	CustomMessage string `json:"custom_message,omitempty" validate:"max=100"`
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	convs, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]ConversationDTO, 0, len(convs))
	for i := range convs {
		out = append(out, NewConversationDTO(&convs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())

	var req createConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.CreateConversation(r.Context(), userID, ConversationType(req.Type), req.Title, req.ParticipantIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	full, err := h.svc.GetConversation(r.Context(), userID, c.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewConversationDTO(full))
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	c, err := h.svc.GetConversation(r.Context(), userID, conversationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewConversationDTO(c))
}

func (h *Handler) DeactivateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	if err := h.svc.DeactivateConversation(r.Context(), userID, conversationID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", h.pageSize)
	offset := queryInt(r, "offset", 0)

	msgs, err := h.svc.History(r.Context(), userID, conversationID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, email, name, _ := myMiddleware.Identity(r.Context())
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	var req postMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	mtype := MessageType(req.Type)
	if req.Type == "" {
		mtype = MessageText
	}
	dto, err := h.svc.PostMessage(r.Context(), conversationID, userID, email, name, mtype, req.Content, req.Attachment, req.ReplyTo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	messageID, ok := h.pathID(w, r, "messageID")
	if !ok {
		return
	}
	if err := h.svc.DeleteMessage(r.Context(), messageID, userID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListReactions(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "messageID")
	if !ok {
		return
	}
	reactions, err := h.svc.MessageReactions(r.Context(), userID, conversationID, messageID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reactions)
}

func (h *Handler) AddReaction(w http.ResponseWriter, r *http.Request) {
	userID, email, name, _ := myMiddleware.Identity(r.Context())
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "messageID")
	if !ok {
		return
	}
	var req reactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ReactFor(r.Context(), conversationID, userID, email, name, messageID, ReactionType(req.Type)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID, email, name, _ := myMiddleware.Identity(r.Context())
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "messageID")
	if !ok {
		return
	}
	if err := h.svc.RemoveReaction(r.Context(), userID, email, name, conversationID, messageID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing search query", http.StatusBadRequest)
		return
	}
	msgs, err := h.svc.SearchMessages(r.Context(), userID, q, queryInt(r, "limit", h.pageSize))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) MessageStats(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	stats, err := h.svc.Stats(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, _, _, _ := myMiddleware.Identity(r.Context())
	writeJSON(w, http.StatusOK, h.svc.Presence().Get(userID))
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, email, name, _ := myMiddleware.Identity(r.Context())
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.svc.UpdateStatusFor(userID, email, name, req.Status, req.CustomMessage)
	writeJSON(w, http.StatusOK, h.svc.Presence().Get(userID))
}

func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Presence().Online())
}

// ---------------------------------------------
// helpers
// ---------------------------------------------

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrAttachmentRequired),
		errors.Is(err, ErrInvalidReply),
		errors.Is(err, ErrInvalidFrame),
		errors.Is(err, ErrUnknownReaction),
		errors.Is(err, ErrDirectParticipants),
		errors.Is(err, ErrNoParticipants):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
