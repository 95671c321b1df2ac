package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/middleware"
	"github.com/collabset/backend/internal/models"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Logger       *slog.Logger
	Users        UserStore
	UserList     UserLister
	Sessions     SessionManager
	Lifecycle    LifecycleService
	Chat         ChatService
	Admin        AdminService
	Snapshots    Snapshotter
	Deliverables DeliverableProvider
	Stream       StreamServer
	Mirror       lifecycle.Mirror
	Health       Pinger
	AuthLimiter  RateLimiter
	APILimiter   RateLimiter
	NowFunc      func() time.Time
}

// NewRouter wires HTTP handlers into a chi router.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	health := HealthHandler{Store: deps.Health}
	authH := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Mirror: deps.Mirror, Limiter: deps.AuthLimiter, NowFunc: deps.NowFunc}
	profile := ProfileHandler{Users: deps.Users, Sessions: deps.Sessions, Mirror: deps.Mirror, NowFunc: deps.NowFunc}
	directory := DirectoryHandler{Users: deps.UserList}
	requests := RequestHandler{Lifecycle: deps.Lifecycle}
	deals := DealHandler{Lifecycle: deps.Lifecycle, Deliverables: deps.Deliverables}
	chatH := ChatHandler{Chat: deps.Chat}
	adminH := AdminHandler{Admin: deps.Admin, Users: deps.UserList, Snapshots: deps.Snapshots}
	stream := StreamHandler{Stream: deps.Stream}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))

	r.Get("/healthz", health.Handle)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authH.SignUp)
			r.Post("/login", authH.Login)
			r.Post("/refresh", authH.Refresh)
			r.Post("/logout", authH.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(deps.Sessions))
			r.Use(middleware.RateLimit(deps.APILimiter, "api"))

			r.Get("/me", profile.Me)
			r.Patch("/me", profile.Update)
			r.Post("/me/role", profile.SwitchRole)

			r.Get("/parties", directory.List)

			r.Get("/requests", requests.List)
			r.Post("/requests", requests.Create)
			r.Post("/requests/{requestID}/accept", requests.Accept)
			r.Post("/requests/{requestID}/reject", requests.Reject)

			r.Get("/deals", deals.List)
			r.Get("/deals/{dealID}", deals.Get)
			r.Post("/deals/{dealID}/project", deals.UpdateProject)
			r.Post("/deals/{dealID}/payment", deals.UpdatePayment)
			r.Get("/deals/{dealID}/deliverable", deals.Deliverable)
			r.Get("/summary", deals.Summary)

			r.Post("/collabs/direct", requests.OpenDirect)
			r.Get("/collabs/{collabID}/messages", chatH.List)
			r.Post("/collabs/{collabID}/messages", chatH.Send)
			r.Post("/collabs/{collabID}/messages/seen", chatH.MarkSeen)

			r.Get("/stream", stream.Handle)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Get("/stats", adminH.Stats)
				r.Get("/users", adminH.ListUsers)
				r.Post("/users/{userID}/verify", adminH.Verify)
				r.Post("/users/{userID}/block", adminH.Block)
				r.Post("/snapshots", adminH.Snapshot)
			})
		})
	})

	return r
}
