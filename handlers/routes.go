package handlers

import (
	"net/http"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/services"
	"github.com/gorilla/mux"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	DB          *database.Database
	Auth        *services.AuthService
	Hub         *services.Hub
	Broadcaster Broadcaster
	AllowOrigin func(origin string) bool
}

// NewRouter registers every API route under /api.
func NewRouter(deps Deps) *mux.Router {
	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = deps.Hub
	}

	locks := NewChannelLocks()

	authMiddleware := NewAuthMiddleware(deps.Auth)
	authHandler := NewAuthHandler(deps.Auth, deps.DB)
	projectHandler := NewProjectHandler(deps.DB, broadcaster, locks)
	taskHandler := NewTaskHandler(deps.DB, broadcaster, locks)
	statusHandler := NewStatusHandler(deps.DB, broadcaster, locks)
	liveHandler := NewLiveHandler(deps.Hub, deps.AllowOrigin)
	admin := authMiddleware.RequireAdmin

	r := mux.NewRouter()
	r.Use(RequestLogger)

	api := r.PathPrefix("/api").Subrouter()

	// Public routes
	api.HandleFunc("/health", liveHandler.Health).Methods(http.MethodGet)
	api.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)
	api.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)

	// Protected routes
	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware.Auth)

	protected.HandleFunc("/verify", authHandler.VerifyToken).Methods(http.MethodGet)
	protected.HandleFunc("/profile", authHandler.GetProfile).Methods(http.MethodGet)
	protected.HandleFunc("/profile", authHandler.UpdateProfile).Methods(http.MethodPut)

	protected.HandleFunc("/projects", projectHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/projects", admin(projectHandler.Create)).Methods(http.MethodPost)
	protected.HandleFunc("/projects/{id}", projectHandler.Get).Methods(http.MethodGet)
	protected.HandleFunc("/projects/{id}", projectHandler.Update).Methods(http.MethodPut)
	protected.HandleFunc("/projects/{id}", admin(projectHandler.Delete)).Methods(http.MethodDelete)
	protected.HandleFunc("/board/{projectId}", projectHandler.Board).Methods(http.MethodGet)
	protected.HandleFunc("/boards/{projectId}", projectHandler.Board).Methods(http.MethodGet)

	protected.HandleFunc("/tasks/reorder", taskHandler.Reorder).Methods(http.MethodPut)
	protected.HandleFunc("/tasks", taskHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/tasks", taskHandler.Create).Methods(http.MethodPost)
	protected.HandleFunc("/tasks", taskHandler.Update).Methods(http.MethodPut)
	protected.HandleFunc("/tasks", taskHandler.Delete).Methods(http.MethodDelete)

	protected.HandleFunc("/status/reorder", statusHandler.Reorder).Methods(http.MethodPut)
	protected.HandleFunc("/status", statusHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/status", statusHandler.Create).Methods(http.MethodPost)
	protected.HandleFunc("/status", statusHandler.Update).Methods(http.MethodPut)
	protected.HandleFunc("/status", admin(statusHandler.Delete)).Methods(http.MethodDelete)

	// WebSocket route for real-time updates
	protected.HandleFunc("/ws", liveHandler.HandleWebSocket).Methods(http.MethodGet)

	return r
}
