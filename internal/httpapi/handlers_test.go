package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tuonane/internal/audit"
	"tuonane/internal/auth"
	"tuonane/internal/billing"
	"tuonane/internal/calls"
	"tuonane/internal/earnings"
	"tuonane/internal/media"
	"tuonane/internal/money"
	"tuonane/internal/pricing"
	"tuonane/internal/profiles"
	"tuonane/internal/rbac"
	"tuonane/internal/reporting"
	"tuonane/internal/session"
	"tuonane/internal/signaling"
	"tuonane/internal/wallet"

	"github.com/gin-gonic/gin"
)

type fixture struct {
	router     *gin.Engine
	handlers   Handlers
	store      *calls.MemoryStore
	profiles   *profiles.MemoryStore
	walletRepo *wallet.MemoryRepo
	auditRepo  *audit.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store:      calls.NewMemoryStore(),
		profiles:   profiles.NewMemoryStore(),
		walletRepo: wallet.NewMemoryRepo(),
		auditRepo:  audit.NewMemoryRepo(),
	}
	wallets := wallet.NewService(f.walletRepo)
	channel := signaling.NewMemoryChannel()
	rates, err := pricing.NewService(money.MustParse("1.5"))
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	engine := billing.NewEngine(f.store, wallets, channel, log, time.Second)
	earnSvc := earnings.NewService(earnings.NewMemoryStore())

	controller := session.NewController(session.Config{
		Store:           f.store,
		Profiles:        f.profiles,
		Rates:           rates,
		Wallets:         wallets,
		Earnings:        earnSvc,
		Channel:         channel,
		Media:           media.NewFakeProvider("testapp"),
		Engine:          engine,
		Log:             log,
		RingTimeout:     time.Minute,
		MinStartBalance: money.MustParse("10"),
	})

	f.handlers = Handlers{
		Wallet:     wallets,
		Calls:      f.store,
		Controller: controller,
		Earnings:   earnSvc,
		Reports:    reporting.NewService(reporting.NewMemoryRepo()),
		Audit:      audit.NewService(f.auditRepo),
		Log:        log,
	}

	f.router = gin.New()
	// Identity is normally injected by the JWT middleware; tests use a header.
	f.router.Use(func(c *gin.Context) {
		uid := c.GetHeader("X-Test-User")
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			role = rbac.RoleUser
		}
		if uid != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), uid, role))
		}
		c.Next()
	})
	v1 := f.router.Group("/v1")
	{
		v1.GET("/wallet", f.handlers.GetWallet)
		v1.POST("/calls", f.handlers.StartCall)
		v1.GET("/calls/:call_id", f.handlers.GetCall)
		v1.GET("/calls/pending", f.handlers.ListPendingCalls)
		v1.POST("/calls/:call_id/accept", f.handlers.AcceptCall)
		v1.POST("/calls/:call_id/confirm", f.handlers.ConfirmCall)
		v1.POST("/calls/:call_id/reject", f.handlers.RejectCall)
		v1.POST("/calls/:call_id/cancel", f.handlers.CancelCall)
		v1.GET("/earnings", f.handlers.ListEarnings)
		admin := v1.Group("/admin", rbac.RequireAdmin())
		admin.POST("/wallets/credit", f.handlers.AdminCredit)
	}
	return f
}

func (f *fixture) seedUsers(t *testing.T) {
	t.Helper()
	f.profiles.Put(profiles.Profile{ID: "bob", DisplayName: "Bob", VideoCallEnabled: true})
	f.profiles.Put(profiles.Profile{ID: "alice", DisplayName: "Alice", VideoCallEnabled: true})
	f.walletRepo.Seed(wallet.Wallet{UserID: "bob", AccountBalance: money.MustParse("50")})
	f.walletRepo.Seed(wallet.Wallet{UserID: "alice"})
}

func (f *fixture) do(method, path, user, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStartCallAndAccept(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t)

	w := f.do(http.MethodPost, "/v1/calls", "bob", "", gin.H{"recipient_id": "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: code = %d, body = %s", w.Code, w.Body.String())
	}
	var rec calls.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Status != calls.StatusPending || rec.Room == nil {
		t.Fatalf("unexpected record: %+v", rec)
	}

	w = f.do(http.MethodGet, "/v1/calls/pending", "alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pending: code = %d", w.Code)
	}

	// Confirmation is premature while ringing and caller-only afterwards.
	if w := f.do(http.MethodPost, "/v1/calls/"+rec.ID+"/confirm", "bob", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("confirm before accept: code = %d", w.Code)
	}

	w = f.do(http.MethodPost, "/v1/calls/"+rec.ID+"/accept", "alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: code = %d, body = %s", w.Code, w.Body.String())
	}

	if w := f.do(http.MethodPost, "/v1/calls/"+rec.ID+"/confirm", "alice", "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("recipient confirm: code = %d", w.Code)
	}
	w = f.do(http.MethodPost, "/v1/calls/"+rec.ID+"/confirm", "bob", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: code = %d, body = %s", w.Code, w.Body.String())
	}
	var confirmed calls.Record
	if err := json.Unmarshal(w.Body.Bytes(), &confirmed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !confirmed.IsConfirmed {
		t.Fatal("record should be confirmed")
	}
}

func TestStartCallScreeningStatuses(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t)
	f.walletRepo.Seed(wallet.Wallet{UserID: "poor", AccountBalance: money.MustParse("1")})
	f.profiles.Put(profiles.Profile{ID: "poor", DisplayName: "Poor", VideoCallEnabled: true})

	w := f.do(http.MethodPost, "/v1/calls", "poor", "", gin.H{"recipient_id": "alice"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("low balance: code = %d", w.Code)
	}
	w = f.do(http.MethodPost, "/v1/calls", "bob", "", gin.H{"recipient_id": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing recipient: code = %d", w.Code)
	}
	w = f.do(http.MethodPost, "/v1/calls", "", "", gin.H{"recipient_id": "alice"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: code = %d", w.Code)
	}
}

func TestRejectConflictsAfterTerminal(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t)

	w := f.do(http.MethodPost, "/v1/calls", "bob", "", gin.H{"recipient_id": "alice"})
	var rec calls.Record
	_ = json.Unmarshal(w.Body.Bytes(), &rec)

	if w := f.do(http.MethodPost, "/v1/calls/"+rec.ID+"/cancel", "bob", "", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel: code = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/calls/"+rec.ID+"/reject", "alice", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("reject after cancel: code = %d", w.Code)
	}
}

func TestGetCallHidesOtherPeoplesCalls(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t)

	w := f.do(http.MethodPost, "/v1/calls", "bob", "", gin.H{"recipient_id": "alice"})
	var rec calls.Record
	_ = json.Unmarshal(w.Body.Bytes(), &rec)

	if w := f.do(http.MethodGet, "/v1/calls/"+rec.ID, "mallory", "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider get: code = %d", w.Code)
	}
}

func TestAdminCreditRequiresAdminAndAudits(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t)

	body := gin.H{"user_id": "bob", "amount": "25", "reason": "promo", "idempotency_key": "credit-1"}
	if w := f.do(http.MethodPost, "/v1/admin/wallets/credit", "bob", rbac.RoleUser, body); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin: code = %d", w.Code)
	}

	w := f.do(http.MethodPost, "/v1/admin/wallets/credit", "root", rbac.RoleAdmin, body)
	if w.Code != http.StatusOK {
		t.Fatalf("admin credit: code = %d, body = %s", w.Code, w.Body.String())
	}
	var got wallet.Wallet
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AccountBalance.Cmp(money.MustParse("75")) != 0 {
		t.Fatalf("balance = %s, want 75", got.AccountBalance)
	}

	evs := f.auditRepo.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeAdminCredit || evs[0].WalletUserID != "bob" {
		t.Fatalf("audit events = %+v", evs)
	}

	// Replay with the same idempotency key is a no-op.
	w = f.do(http.MethodPost, "/v1/admin/wallets/credit", "root", rbac.RoleAdmin, body)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: code = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.AccountBalance.Cmp(money.MustParse("75")) != 0 {
		t.Fatalf("replayed balance = %s, want 75", got.AccountBalance)
	}
}

func TestGetWallet(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t)

	w := f.do(http.MethodGet, "/v1/wallet", "bob", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got wallet.Wallet
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AccountBalance.Cmp(money.MustParse("50")) != 0 {
		t.Fatalf("balance = %s", got.AccountBalance)
	}
}
