package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ltmoamin/RentalCar/internal/api"
	"github.com/ltmoamin/RentalCar/internal/auth"
	"github.com/ltmoamin/RentalCar/internal/chat"
	"github.com/ltmoamin/RentalCar/internal/mediastore"
	"github.com/ltmoamin/RentalCar/internal/storage"
	"github.com/ltmoamin/RentalCar/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(
	authService *auth.AuthService,
	chatService *chat.Service,
	hub *ws.Hub,
	files mediastore.Store,
	store *storage.BboltStorage,
	addr string,
	baseURL string,
	allowedOrigins []string,
) *APIServer {
	wsServer := ws.NewServer(authService, hub, chatService)
	handlers := api.New(authService, chatService, files, store, baseURL)

	r := mux.NewRouter()

	r.HandleFunc("/api/login", handlers.LoginHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/logoff", handlers.LogoffHandler).Methods(http.MethodPost)

	r.HandleFunc("/api/chat/conversations", handlers.RequireAuth(handlers.ConversationsHandler)).Methods(http.MethodGet)
	r.HandleFunc("/api/chat/messages/{id}", handlers.RequireAuth(handlers.MessagesHandler)).Methods(http.MethodGet)
	r.HandleFunc("/api/chat/send", handlers.RequireAuth(handlers.SendMessageHandler)).Methods(http.MethodPost)
	r.HandleFunc("/api/chat/start", handlers.RequireAuth(handlers.StartConversationHandler)).Methods(http.MethodPost)
	r.HandleFunc("/api/chat/partners", handlers.RequireAuth(handlers.PartnersHandler)).Methods(http.MethodGet)
	r.HandleFunc("/api/chat/read/{id}", handlers.RequireAuth(handlers.MarkReadHandler)).Methods(http.MethodPut)
	r.HandleFunc("/api/chat/pin/{id}", handlers.RequireAuth(handlers.TogglePinHandler)).Methods(http.MethodPut)
	r.HandleFunc("/api/chat/archive/{id}", handlers.RequireAuth(handlers.ToggleArchiveHandler)).Methods(http.MethodPut)
	r.HandleFunc("/api/chat/{id}", handlers.RequireAuth(handlers.DeleteConversationHandler)).Methods(http.MethodDelete)

	r.HandleFunc("/api/chat/upload", handlers.RequireAuth(handlers.UploadMediaHandler)).Methods(http.MethodPost)
	r.HandleFunc("/api/media/{id}", handlers.GetMediaHandler).Methods(http.MethodGet)

	r.HandleFunc("/api/notifications", handlers.RequireAuth(handlers.NotificationsHandler)).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications/unread-count", handlers.RequireAuth(handlers.UnreadCountHandler)).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications/read-all", handlers.RequireAuth(handlers.MarkAllNotificationsReadHandler)).Methods(http.MethodPatch)
	r.HandleFunc("/api/notifications/read-chat", handlers.RequireAuth(handlers.MarkChatNotificationsReadHandler)).Methods(http.MethodPatch)
	r.HandleFunc("/api/notifications/{id}/read", handlers.RequireAuth(handlers.MarkNotificationReadHandler)).Methods(http.MethodPatch)

	r.HandleFunc("/api/push/subscribe", handlers.RequireAuth(handlers.PushSubscribeHandler)).Methods(http.MethodPost)

	// WebSocket endpoint
	r.HandleFunc("/api/chat", wsServer.HandleConnections)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "token"},
		AllowCredentials: true,
	})

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: c.Handler(r),
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
