package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatroom/internal/broker"
	"github.com/npezzotti/go-chatroom/internal/config"
	"github.com/npezzotti/go-chatroom/internal/database"
	"github.com/npezzotti/go-chatroom/internal/server"
	"github.com/npezzotti/go-chatroom/internal/stats"
)

// PresenceReader is the part of the presence registry the REST layer uses.
type PresenceReader interface {
	ActiveNames(ctx context.Context, roomID string) ([]string, error)
	AllActiveNames(ctx context.Context) ([]string, error)
	ClearRoom(ctx context.Context, roomID string) error
}

type GoChatApp struct {
	log            *slog.Logger
	db             database.GoChatRepository
	cs             *server.ChatServer
	presence       PresenceReader
	events         broker.Publisher
	stats          stats.StatsProvider
	allowedOrigins []string
	srv            *http.Server
}

func NewGoChatApp(
	mux *http.ServeMux,
	logger *slog.Logger,
	cs *server.ChatServer,
	db database.GoChatRepository,
	p PresenceReader,
	events broker.Publisher,
	su stats.StatsProvider,
	cfg *config.Config,
) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		presence:       p,
		events:         events,
		stats:          su,
		allowedOrigins: cfg.AllowedOrigins,
	}
	su.RegisterMetric(stats.NumPublishedEvents)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/rooms", s.listRooms)
	mux.HandleFunc("POST /api/rooms", s.createRoom)
	mux.HandleFunc("GET /api/rooms/online_users", s.onlineUsers)
	mux.HandleFunc("GET /api/rooms/{id}", s.getRoom)
	mux.HandleFunc("DELETE /api/rooms/{id}", s.deleteRoom)
	mux.HandleFunc("GET /api/rooms/{id}/presence", s.roomPresence)
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.getMessages)
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.createMessage)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", HeaderRequestID}),
		handlers.ExposedHeaders([]string{HeaderRequestID}),
	)(mux)

	h = s.requestLogger(h)
	h = requestId(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}
