package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/auth"
	"github.com/weheal/lifeline/internal/config"
	"github.com/weheal/lifeline/internal/hub"
	"github.com/weheal/lifeline/internal/store"
)

type Server struct {
	cfg      *config.Config
	store    *store.Store
	hub      *hub.Hub
	auth     *auth.JWTManager
	router   *chi.Mux
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, store *store.Store, h *hub.Hub) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		hub:    h,
		auth:   auth.NewJWTManager(cfg.JWTSecret),
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Lifeline dispatch relay is running"))
	})

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Post("/api/login", s.handleLogin)

	s.router.Group(func(r chi.Router) {
		r.Use(s.jwtMiddleware)
		r.Get("/ws", s.handleWS)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Error().Err(err).Msg("failed to authenticate user")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.auth.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"token":  token,
		"userId": user.ID,
		"role":   user.Role,
	})
}

// handleWS upgrades the connection and hands it to the hub. Identity claims
// travel with the client; the authenticate frame must match them.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	hub.NewClient(s.hub, conn, claims.Subject, claims.Role)
}
