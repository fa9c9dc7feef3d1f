package handler

import (
	"net/http"

	"github.com/dandantas/boarding/pkg/middleware"
)

// Handlers groups the endpoint handlers mounted by the router
type Handlers struct {
	Queue  *QueueHandler
	Admin  *AdminHandler
	Orders *OrderHandler
	Jobs   *JobsHandler
	Health *HealthHandler
}

// RouterConfig holds the access and CORS settings of the router
type RouterConfig struct {
	CORS       middleware.CORSConfig
	Identity   middleware.IdentityHeaders
	AdminToken string
	// Metrics serves /metrics when non-nil
	Metrics http.Handler
}

// Router handles HTTP routing
type Router struct {
	h   Handlers
	cfg RouterConfig
}

// NewRouter creates a new router
func NewRouter(h Handlers, cfg RouterConfig) *Router {
	return &Router{h: h, cfg: cfg}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	admin := middleware.AdminToken(rt.cfg.AdminToken)
	adminFunc := func(fn http.HandlerFunc) http.Handler { return admin(fn) }

	// Health endpoints
	mux.HandleFunc("GET /health", rt.h.Health.Health)
	mux.HandleFunc("GET /ready", rt.h.Health.Ready)
	if rt.cfg.Metrics != nil {
		mux.Handle("GET /metrics", rt.cfg.Metrics)
	}

	// Applicant endpoints
	mux.HandleFunc("POST /api/v1/queue", rt.h.Queue.Join)
	mux.HandleFunc("DELETE /api/v1/queue", rt.h.Queue.Leave)
	mux.HandleFunc("GET /api/v1/queue/me", rt.h.Queue.Me)
	mux.HandleFunc("GET /api/v1/queue/position", rt.h.Queue.Position)

	// Orders
	mux.HandleFunc("POST /api/v1/orders", rt.h.Orders.Create)
	mux.HandleFunc("GET /api/v1/orders/{orderNo}", rt.h.Orders.Get)
	mux.Handle("POST /api/v1/orders/{orderNo}/paid", adminFunc(rt.h.Orders.MarkPaid))

	// Queue administration
	mux.Handle("GET /api/v1/admin/queue", adminFunc(rt.h.Admin.ListEntries))
	mux.Handle("DELETE /api/v1/admin/queue", adminFunc(rt.h.Admin.ClearQueue))
	mux.Handle("GET /api/v1/admin/queue/stats", adminFunc(rt.h.Admin.Stats))
	mux.Handle("GET /api/v1/admin/queue/{id}", adminFunc(rt.h.Admin.GetEntry))
	mux.Handle("PATCH /api/v1/admin/queue/{id}", adminFunc(rt.h.Admin.SetStatus))
	mux.Handle("PUT /api/v1/admin/queue/{id}/reservation", adminFunc(rt.h.Admin.BindResource))
	mux.Handle("DELETE /api/v1/admin/queue/{id}/reservation", adminFunc(rt.h.Admin.ClearReservation))
	mux.Handle("POST /api/v1/admin/queue/{id}/cooldown-reset", adminFunc(rt.h.Admin.ResetCooldown))
	mux.Handle("POST /api/v1/admin/queue/{id}/redeem", adminFunc(rt.h.Admin.Redeem))

	// Resource pool and groups
	mux.Handle("POST /api/v1/admin/resources", adminFunc(rt.h.Admin.ImportResources))
	mux.Handle("GET /api/v1/admin/resources/counts", adminFunc(rt.h.Admin.ResourceCounts))
	mux.Handle("GET /api/v1/admin/resources/{ref}", adminFunc(rt.h.Admin.LookupResource))
	mux.Handle("POST /api/v1/admin/groups", adminFunc(rt.h.Admin.RegisterGroup))
	mux.Handle("GET /api/v1/admin/groups/{id}", adminFunc(rt.h.Admin.GetGroup))
	mux.Handle("POST /api/v1/admin/groups/{id}/sync", adminFunc(rt.h.Admin.SyncGroup))

	// Jobs
	mux.Handle("GET /api/v1/admin/jobs", adminFunc(rt.h.Jobs.List))
	mux.Handle("GET /api/v1/admin/job-status/{jobID}", adminFunc(rt.h.Jobs.Status))
	mux.Handle("POST /api/v1/admin/jobs/{name}/run", adminFunc(rt.h.Jobs.Run))
	mux.Handle("GET /api/v1/admin/jobs/{name}/runs", adminFunc(rt.h.Jobs.History))
	mux.Handle("GET /api/v1/admin/jobs/{name}/summary", adminFunc(rt.h.Jobs.Summary))
	mux.Handle("PUT /api/v1/admin/scheduler/hours", adminFunc(rt.h.Jobs.SetHours))

	// Apply middleware (CORS first to handle preflight requests)
	handler := middleware.CORS(rt.cfg.CORS)(mux)
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(handler)
	handler = middleware.Identity(rt.cfg.Identity)(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}
