package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/config"
	"github.com/dandantas/boarding/internal/groups"
	"github.com/dandantas/boarding/internal/invite/invitetest"
	"github.com/dandantas/boarding/internal/jobs"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/orders"
	"github.com/dandantas/boarding/internal/queue"
	"github.com/dandantas/boarding/internal/report"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/scheduler"
	"github.com/dandantas/boarding/internal/store/memory"
	"github.com/dandantas/boarding/pkg/middleware"
)

const (
	testChannel = "linux-do"
	testToken   = "s3cret"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type server struct {
	handler http.Handler
	store   *memory.Store
	res     *reservation.Service
	dir     *groups.Directory
	state   *scheduler.State
}

func newServer(t *testing.T, capacity int) *server {
	t.Helper()
	st := memory.New()
	clk := clock.NewManual(t0)
	locks := keymutex.New()
	res := reservation.New(st, clk)
	fake := invitetest.New()
	dir := groups.NewDirectory(st, fake, locks, clk, 6)
	hours, err := config.ParseActiveHours(config.DefaultBoardingHours)
	if err != nil {
		t.Fatalf("hours: %v", err)
	}
	state := scheduler.NewState(hours)

	q := queue.NewService(st, res, locks, clk, queue.Options{
		Capacity:      capacity,
		MinTrustLevel: 1,
		RequeuePolicy: config.RequeueOverride,
	})
	f := scheduler.NewFulfiller(scheduler.Deps{
		Entries:      st,
		Invitations:  st,
		Reservations: res,
		Groups:       dir,
		Invites:      fake,
		Locks:        locks,
		Clock:        clk,
		Publisher:    report.NewPublisher(report.NewStoreRecorder(st), nil, nil),
		State:        state,
		Channel:      testChannel,
		Location:     time.UTC,
	})

	registry := jobs.NewRegistry(1, 4)
	registry.Add(model.JobFulfillment, func(ctx context.Context) (*model.JobRun, error) {
		return f.Run(ctx, model.TriggerManual), nil
	})
	registry.Start()
	t.Cleanup(registry.Stop)

	router := NewRouter(Handlers{
		Queue:  NewQueueHandler(q),
		Admin:  NewAdminHandler(q, res, dir, f),
		Orders: NewOrderHandler(orders.NewService(st, res, locks, clk), testChannel),
		Jobs:   NewJobsHandler(registry, state, st, nil),
		Health: NewHealthHandler(st, "memory", func() string { return "closed" }, "test"),
	}, RouterConfig{
		CORS:       middleware.CORSConfig{AllowedOrigins: "*", AllowedMethods: "GET, POST", AllowedHeaders: "*"},
		AdminToken: testToken,
	})

	return &server{handler: router.Handler(), store: st, res: res, dir: dir, state: state}
}

type call struct {
	method   string
	path     string
	body     interface{}
	identity string
	trust    string
	admin    bool
}

func (s *server) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	if c.identity != "" {
		req.Header.Set("X-Identity", c.identity)
		req.Header.Set("X-Username", c.identity)
	}
	if c.trust != "" {
		req.Header.Set("X-Trust-Level", c.trust)
	}
	if c.admin {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func join(identity string) call {
	return call{
		method:   http.MethodPost,
		path:     "/api/v1/queue",
		identity: identity,
		trust:    "2",
		body:     JoinRequest{Email: identity + "@example.com"},
	}
}

func TestQueueJoinPositionAndCapacity(t *testing.T) {
	s := newServer(t, 2)

	rec := s.do(t, join("a"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if snap := decode[model.QueueSnapshot](t, rec); snap.Position != 1 {
		t.Fatalf("expected position 1, got %d", snap.Position)
	}
	s.do(t, join("b"))

	rec = s.do(t, join("c"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decode[ErrorResponse](t, rec); body.Code != string(model.CodeCapacityExceeded) {
		t.Fatalf("expected CAPACITY_EXCEEDED, got %q", body.Code)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/queue/position", identity: "b"})
	if pos := decode[PositionResponse](t, rec); pos.Position != 2 {
		t.Fatalf("expected b at position 2, got %d", pos.Position)
	}

	rec = s.do(t, call{method: http.MethodDelete, path: "/api/v1/queue", identity: "a"})
	if rec.Code != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d", rec.Code)
	}
	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/queue/me", identity: "b"})
	if snap := decode[model.QueueSnapshot](t, rec); snap.Position != 1 {
		t.Fatalf("expected b to move to position 1, got %d", snap.Position)
	}
}

func TestQueueRequiresIdentity(t *testing.T) {
	s := newServer(t, 2)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/v1/queue/me"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJoinValidationErrors(t *testing.T) {
	s := newServer(t, 2)

	tests := []struct {
		name string
		c    call
	}{
		{"bad email", call{method: http.MethodPost, path: "/api/v1/queue", identity: "x", trust: "2",
			body: JoinRequest{Email: "not-an-email"}}},
		{"unknown field", call{method: http.MethodPost, path: "/api/v1/queue", identity: "x",
			body: map[string]string{"nickname": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.c)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestJoinTrustLevelComesFromHeader(t *testing.T) {
	s := newServer(t, 2)
	path := "/api/v1/queue"

	rec := s.do(t, call{method: http.MethodPost, path: path, identity: "mallory", trust: "0",
		body: JoinRequest{Email: "mallory@example.com"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 below the trust gate, got %d: %s", rec.Code, rec.Body.String())
	}

	// a self-declared trust level is rejected, never applied
	rec = s.do(t, call{method: http.MethodPost, path: path, identity: "mallory", trust: "0",
		body: map[string]interface{}{"email": "mallory@example.com", "trust_level": 99}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a body trust level, got %d: %s", rec.Code, rec.Body.String())
	}
	if n, _ := s.store.CountEntries(context.Background(), model.EntryWaiting); n != 0 {
		t.Fatalf("expected no admitted entry, got %d waiting", n)
	}

	rec = s.do(t, call{method: http.MethodPost, path: path, identity: "mallory", trust: "3",
		body: JoinRequest{Email: "mallory@example.com"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a trusted level, got %d: %s", rec.Code, rec.Body.String())
	}
	snap := decode[model.QueueSnapshot](t, rec)
	if snap.Entry == nil || snap.Entry.TrustLevel != 3 || snap.Entry.Username != "mallory" {
		t.Fatalf("expected entry to carry header profile, got %+v", snap.Entry)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newServer(t, 2)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/queue/stats"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/queue/stats", admin: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestAdminInvalidEntryID(t *testing.T) {
	s := newServer(t, 2)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/queue/nope", admin: true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/queue/65f000000000000000000000", admin: true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminRedeemBoardsEntry(t *testing.T) {
	s := newServer(t, 2)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/admin/resources", admin: true,
		body: ImportRequest{Values: []string{"CODE-1", "CODE-1", " "}, Channel: testChannel}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("import: expected 201, got %d", rec.Code)
	}
	if imp := decode[ImportResponse](t, rec); imp.Added != 1 {
		t.Fatalf("expected 1 added, got %d", imp.Added)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/admin/groups", admin: true,
		body: RegisterGroupRequest{Identity: "team-1", AccountID: "acct-1", Token: "tok"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register group: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	snap := decode[model.QueueSnapshot](t, s.do(t, join("a")))
	path := "/api/v1/admin/queue/" + snap.Entry.ID.Hex() + "/redeem"

	rec = s.do(t, call{method: http.MethodPost, path: path, admin: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	run := decode[model.JobRun](t, rec)
	if run.Outcome != model.OutcomeCompleted || run.InviteStatus != model.InvitationDelivered {
		t.Fatalf("expected completed run with delivered invite, got %+v", run)
	}

	rec = s.do(t, call{method: http.MethodPost, path: path, admin: true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second redeem: expected 409, got %d", rec.Code)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/resources/CODE-1", admin: true})
	if res := decode[model.Resource](t, rec); res.State != model.ResourceRedeemed {
		t.Fatalf("expected redeemed resource, got %s", res.State)
	}
}

func TestSetStatusConflict(t *testing.T) {
	s := newServer(t, 2)
	snap := decode[model.QueueSnapshot](t, s.do(t, join("a")))
	path := "/api/v1/admin/queue/" + snap.Entry.ID.Hex()

	rec := s.do(t, call{method: http.MethodPatch, path: path, admin: true, body: StatusRequest{Status: model.EntryBoarded}})
	if rec.Code != http.StatusOK {
		t.Fatalf("board: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, call{method: http.MethodPatch, path: path, admin: true, body: StatusRequest{Status: model.EntryWaiting}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("requeue of boarded entry: expected 409, got %d", rec.Code)
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := newServer(t, 2)
	if _, err := s.res.Import(context.Background(), []string{"CODE-1"}, testChannel, ""); err != nil {
		t.Fatalf("import: %v", err)
	}

	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/orders",
		body: CreateOrderRequest{Kind: model.OrderPurchase, Email: "Buyer@Example.com"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	order := decode[model.Order](t, rec)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/orders",
		body: CreateOrderRequest{Kind: model.OrderPurchase, Email: "other@example.com"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty pool: expected 404, got %d", rec.Code)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + order.OrderNo + "/paid"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("paid without token: expected 401, got %d", rec.Code)
	}
	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + order.OrderNo + "/paid", admin: true})
	if paid := decode[model.Order](t, rec); paid.Status != model.OrderPaid {
		t.Fatalf("expected paid order, got %s", paid.Status)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/orders/" + order.OrderNo})
	if got := decode[model.Order](t, rec); got.Email != "buyer@example.com" {
		t.Fatalf("expected normalized email, got %q", got.Email)
	}
}

func TestJobsEndpoints(t *testing.T) {
	s := newServer(t, 2)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/v1/admin/jobs/unknown/run", admin: true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", rec.Code)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/admin/jobs/fulfillment/run", admin: true})
	if run := decode[model.JobRun](t, rec); run.Outcome != model.OutcomeSkipped || run.Reason != model.ReasonQueueEmpty {
		t.Fatalf("expected queue_empty skip, got %+v", run)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/v1/admin/jobs/fulfillment/run?async=true", admin: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("async run: expected 202, got %d", rec.Code)
	}
	sub := decode[SubmitResponse](t, rec)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/job-status/" + sub.JobID, admin: true})
		status := decode[model.JobStatus](t, rec)
		if status.Status == jobs.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete, last status %q", status.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/jobs/fulfillment/runs", admin: true})
	if page := decode[model.Page[model.JobRun]](t, rec); page.Total != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", page.Total)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/jobs/fulfillment/summary", admin: true})
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("summary without redis: expected 501, got %d", rec.Code)
	}
}

func TestSetHours(t *testing.T) {
	s := newServer(t, 2)

	rec := s.do(t, call{method: http.MethodPut, path: "/api/v1/admin/scheduler/hours", admin: true, body: HoursRequest{Hours: "x-y"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = s.do(t, call{method: http.MethodPut, path: "/api/v1/admin/scheduler/hours", admin: true, body: HoursRequest{Hours: "22-2"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := s.state.Status().Hours; got != "2-22" {
		t.Fatalf("expected reordered range 2-22, got %q", got)
	}
}

func TestHealthAndCorrelation(t *testing.T) {
	s := newServer(t, 2)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.CorrelationHeader, "corr-1")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if rec.Header().Get(middleware.CorrelationHeader) != "corr-1" {
		t.Fatalf("expected correlation id to be echoed")
	}
	health := decode[HealthResponse](t, rec)
	if health.Store != "connected" || health.InviteBreaker != "closed" {
		t.Fatalf("unexpected health %+v", health)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/ready"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code model.ErrorCode
		want int
	}{
		{model.CodeValidation, http.StatusBadRequest},
		{model.CodeForbidden, http.StatusForbidden},
		{model.CodeQueueDisabled, http.StatusForbidden},
		{model.CodeCooldownActive, http.StatusForbidden},
		{model.CodeCapacityExceeded, http.StatusConflict},
		{model.CodeConflict, http.StatusConflict},
		{model.CodeNotFound, http.StatusNotFound},
		{model.CodeExternal, http.StatusBadGateway},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.want {
			t.Errorf("statusFor(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
