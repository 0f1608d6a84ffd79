package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"call-platform/internal/auth"
	"call-platform/internal/dialer"
	"call-platform/internal/ledger"
	"call-platform/internal/rbac"
	"call-platform/internal/reporting"
	"call-platform/internal/telephony"
)

type nullProvider struct{}

func (nullProvider) Name() string { return "null" }
func (nullProvider) PlaceCall(ctx context.Context, from, to, flowRef string) (string, error) {
	return "CA1", nil
}
func (nullProvider) GetCallStatus(ctx context.Context, callID string) (telephony.CallStatus, error) {
	return telephony.CallStatus{CallID: callID, Status: telephony.StatusCompleted, DurationSeconds: 30}, nil
}
func (nullProvider) TerminateCall(ctx context.Context, callID string) error { return nil }

// identity injects a fixed caller, standing in for the JWT middleware.
func identity(userID, accountID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, accountID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestRouter(store *ledger.MemoryStore, who gin.HandlerFunc) (*gin.Engine, *dialer.Manager) {
	gin.SetMode(gin.TestMode)
	m := dialer.NewManager(store, nullProvider{}, dialer.Options{
		From:         "+15550001000",
		PollInterval: time.Millisecond,
		MaxPollWait:  50 * time.Millisecond,
		IdleWait:     time.Millisecond,
	}, nil)
	h := Handlers{Dialer: m, Reporting: reporting.NewService(store), Store: store}

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(who)
	v1.Use(rbac.RequireAccount())
	v1.POST("/campaigns", h.LaunchCampaign)
	v1.GET("/campaigns/:id", h.GetCampaign)
	v1.GET("/usage/summary", h.UsageSummary)

	operator := v1.Group("/accounts")
	operator.Use(rbac.RequireAnyRole(rbac.RolePlatformOperator))
	operator.POST("/:id/credit", h.CreditAccount)
	return r, m
}

func TestLaunchCampaign_CreatesAndStarts(t *testing.T) {
	store := ledger.NewMemoryStore()
	r, m := newTestRouter(store, identity("u1", "acct-1", rbac.RoleTenantAdmin))
	defer m.Shutdown()

	body := `{"name":"spring","contacts":[{"phone":"+1001"}],"concurrent_lines":1}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var got ledger.Campaign
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AccountID != "acct-1" || got.Status != ledger.CampaignInProgress {
		t.Fatalf("unexpected campaign: %+v", got)
	}
}

func TestLaunchCampaign_RejectsEmptyContacts(t *testing.T) {
	store := ledger.NewMemoryStore()
	r, m := newTestRouter(store, identity("u1", "acct-1", rbac.RoleTenantAdmin))
	defer m.Shutdown()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns", strings.NewReader(`{"name":"empty"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetCampaign_HiddenAcrossAccounts(t *testing.T) {
	store := ledger.NewMemoryStore()
	_ = store.UpsertCampaign(context.Background(), ledger.Campaign{
		ID: "camp-1", AccountID: "other", Name: "theirs", Status: ledger.CampaignCompleted,
	})
	r, m := newTestRouter(store, identity("u1", "acct-1", rbac.RoleTenantAdmin))
	defer m.Shutdown()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/campaigns/camp-1", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign campaign must 404, got %d", w.Code)
	}
}

func TestUsageSummary_ReturnsAggregates(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.PutAccount(ledger.Account{ID: "acct-1", Role: ledger.RoleTenantAdmin, BalanceMinutes: 10})
	_, _, err := store.FinalizeCall(context.Background(), ledger.UsageRecord{
		AccountID: "acct-1", CallID: "c1", MinutesBilled: 2, CostMinutes: 2,
		TerminalStatus: "completed", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, m := newTestRouter(store, identity("u1", "acct-1", rbac.RoleTenantAdmin))
	defer m.Shutdown()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/usage/summary", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got reporting.UsageSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalCalls != 1 || got.TotalMinutesBilled != 2 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestCreditAccount_OperatorOnly(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.PutAccount(ledger.Account{ID: "acct-1", Role: ledger.RoleTenantAdmin, BalanceMinutes: 1})

	r, m := newTestRouter(store, identity("u1", "acct-1", rbac.RoleTenantAdmin))
	defer m.Shutdown()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/accounts/acct-1/credit", strings.NewReader(`{"minutes":5}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("tenant admin must not credit, got %d", w.Code)
	}

	r2, m2 := newTestRouter(store, identity("ops", "ops-acct", rbac.RolePlatformOperator))
	defer m2.Shutdown()
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/v1/accounts/acct-1/credit", strings.NewReader(`{"minutes":5}`))
	req2.Header.Set("Content-Type", "application/json")
	r2.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("operator credit failed: %d %s", w2.Code, w2.Body.String())
	}
	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 6 {
		t.Fatalf("expected balance 6, got %v", a.BalanceMinutes)
	}
}
