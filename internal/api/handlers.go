package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/h2non/filetype"

	"github.com/ltmoamin/RentalCar/internal/auth"
	"github.com/ltmoamin/RentalCar/internal/chat"
	"github.com/ltmoamin/RentalCar/internal/mediastore"
	"github.com/ltmoamin/RentalCar/internal/models"
	"github.com/ltmoamin/RentalCar/internal/storage"
)

const maxUploadSize = 15 << 20 // 15 MiB

type API struct {
	auth    *auth.AuthService
	chat    *chat.Service
	files   mediastore.Store
	storage *storage.BboltStorage
	baseURL string
}

func New(authService *auth.AuthService, chatService *chat.Service, files mediastore.Store, store *storage.BboltStorage, baseURL string) *API {
	return &API{
		auth:    authService,
		chat:    chatService,
		files:   files,
		storage: store,
		baseURL: baseURL,
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the bearer token and passes the user ID through.
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp := a.auth.Login(req)
	if !resp.Success {
		writeJSON(w, http.StatusUnauthorized, resp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	conversations, err := a.chat.Conversations(userID)
	if err != nil {
		log.Printf("failed to list conversations: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	conversationID := mux.Vars(r)["id"]
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	pageResp, err := a.chat.MessagesPage(userID, conversationID, page, size)
	if err != nil {
		a.chatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResp)
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := a.chat.SendMessage(userID, req)
	if err != nil {
		a.chatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) StartConversationHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := a.chat.StartConversation(userID, req.UserID)
	if err != nil {
		a.chatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *API) PartnersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	partners, err := a.chat.Partners(userID)
	if err != nil {
		a.chatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, partners)
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if err := a.chat.MarkConversationRead(userID, mux.Vars(r)["id"]); err != nil {
		a.chatError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) TogglePinHandler(w http.ResponseWriter, r *http.Request, userID string) {
	pinned, err := a.chat.TogglePin(userID, mux.Vars(r)["id"])
	if err != nil {
		a.chatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pinned": pinned})
}

func (a *API) ToggleArchiveHandler(w http.ResponseWriter, r *http.Request, userID string) {
	archived, err := a.chat.ToggleArchive(userID, mux.Vars(r)["id"])
	if err != nil {
		a.chatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": archived})
}

func (a *API) DeleteConversationHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if err := a.chat.DeleteConversation(userID, mux.Vars(r)["id"]); err != nil {
		a.chatError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) NotificationsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	notifications, err := a.chat.Notifications(userID)
	if err != nil {
		log.Printf("failed to list notifications: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (a *API) UnreadCountHandler(w http.ResponseWriter, r *http.Request, userID string) {
	count, err := a.chat.UnreadNotificationCount(userID)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (a *API) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if err := a.chat.MarkNotificationRead(userID, mux.Vars(r)["id"]); err != nil {
		a.chatError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) MarkAllNotificationsReadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if err := a.chat.MarkAllNotificationsRead(userID); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) MarkChatNotificationsReadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	senderName := r.URL.Query().Get("senderName")
	if senderName == "" {
		http.Error(w, "senderName is required", http.StatusBadRequest)
		return
	}
	updated, err := a.chat.MarkChatNotificationsRead(userID, senderName)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}
	if err := a.chat.RegisterPushSubscription(userID, sub); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// UploadMediaHandler stores a voice note, image or video and returns
// the URL to embed in a message. The media type is sniffed from the
// content, never trusted from the request.
func (a *API) UploadMediaHandler(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		http.Error(w, "Unrecognized file type", http.StatusBadRequest)
		return
	}

	var mediaType models.MessageType
	switch {
	case filetype.IsImage(data):
		mediaType = models.MessageTypeImage
	case filetype.IsVideo(data):
		mediaType = models.MessageTypeVideo
	case filetype.IsAudio(data):
		mediaType = models.MessageTypeVoice
	default:
		http.Error(w, "Unsupported file type", http.StatusBadRequest)
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := a.files.Put(bytes.NewReader(data), hash); err != nil {
		log.Printf("failed to save upload: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	meta := storage.MediaMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      int64(len(data)),
		CreatedAt: time.Now().Unix(),
		UserID:    userID,
	}
	if err := a.storage.UpsertMediaMetadata(meta); err != nil {
		log.Printf("failed to save upload metadata: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":       fmt.Sprintf("%s/api/media/%s", a.baseURL, meta.ID),
		"mediaType": string(mediaType),
	})
}

func (a *API) GetMediaHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.storage.GetMediaMetadata(mux.Vars(r)["id"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := a.files.Open(meta.Hash)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream media: %v", err)
	}
}

func (a *API) chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, chat.ErrNotParticipant):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, "Message has no content", http.StatusBadRequest)
	default:
		log.Printf("chat request failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
