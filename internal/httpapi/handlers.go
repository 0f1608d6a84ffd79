package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"call-platform/internal/auth"
	"call-platform/internal/dialer"
	"call-platform/internal/ledger"
	"call-platform/internal/rbac"
	"call-platform/internal/reporting"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Dialer    *dialer.Manager
	Reporting *reporting.Service
	Store     ledger.Store
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Login issues an access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AccountID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, account_id, role required"})
		return
	}
	token, err := h.Auth.IssueAccess(time.Now(), req.UserID, req.AccountID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Campaigns ---

type launchCampaignRequest struct {
	Name     string `json:"name"`
	Contacts []struct {
		Phone string `json:"phone"`
		Name  string `json:"name,omitempty"`
	} `json:"contacts"`

	ConcurrentLines     int `json:"concurrent_lines"`
	CallIntervalSeconds int `json:"call_interval_seconds"`

	MaxRetries           int `json:"max_retries"`
	RetryIntervalMinutes int `json:"retry_interval_minutes"`

	DailyStart string `json:"daily_start,omitempty"`
	DailyEnd   string `json:"daily_end,omitempty"`
}

func (h Handlers) LaunchCampaign(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	var req launchCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	contacts := make([]ledger.Contact, 0, len(req.Contacts))
	for _, ct := range req.Contacts {
		contacts = append(contacts, ledger.Contact{Phone: ct.Phone, Name: ct.Name})
	}
	campaign, err := h.Dialer.Launch(c.Request.Context(), ledger.Campaign{
		AccountID:            accountID,
		Name:                 req.Name,
		Contacts:             contacts,
		ConcurrentLines:      req.ConcurrentLines,
		CallIntervalSeconds:  req.CallIntervalSeconds,
		MaxRetries:           req.MaxRetries,
		RetryIntervalMinutes: req.RetryIntervalMinutes,
		DailyStart:           req.DailyStart,
		DailyEnd:             req.DailyEnd,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, dialer.ErrNotConfigured) {
			status = http.StatusConflict
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h Handlers) PauseCampaign(c *gin.Context) {
	campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}
	if err := h.Dialer.Pause(c.Request.Context(), campaign.ID); err != nil {
		if errors.Is(err, dialer.ErrNotRunning) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign is not running"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pause failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pausing"})
}

func (h Handlers) ResumeCampaign(c *gin.Context) {
	campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}
	resumed, err := h.Dialer.Resume(c.Request.Context(), campaign.ID)
	if err != nil {
		switch {
		case errors.Is(err, dialer.ErrAlreadyRunning), errors.Is(err, dialer.ErrFinished):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "resume failed"})
		}
		return
	}
	c.JSON(http.StatusOK, resumed)
}

func (h Handlers) DeleteCampaign(c *gin.Context) {
	campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}
	if err := h.Dialer.Delete(c.Request.Context(), campaign.ID); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GetCampaign(c *gin.Context) {
	campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	campaigns, err := h.Dialer.List(c.Request.Context(), accountID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// ownedCampaign loads the :id campaign and enforces account ownership.
// Platform operators see everything.
func (h Handlers) ownedCampaign(c *gin.Context) (ledger.Campaign, bool) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return ledger.Campaign{}, false
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return ledger.Campaign{}, false
	}
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign id required"})
		return ledger.Campaign{}, false
	}
	campaign, err := h.Dialer.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		} else {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign lookup failed"})
		}
		return ledger.Campaign{}, false
	}
	role, _ := auth.Role(c.Request.Context())
	if campaign.AccountID != accountID && !rbac.IsPlatformOperator(role) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return ledger.Campaign{}, false
	}
	return campaign, true
}

// --- Reporting ---

func (h Handlers) UsageSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}

	// Default range: the last 30 days.
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t
	}

	out, err := h.Reporting.UsageSummary(c.Request.Context(), reporting.UsageSummaryRequest{
		AccountID: accountID,
		Range:     reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Accounts ---

type creditRequest struct {
	Minutes float64 `json:"minutes"`
	Reason  string  `json:"reason"`
}

// CreditAccount applies a manual balance adjustment. Operator only
// (enforced at the route); negative minutes debit.
func (h Handlers) CreditAccount(c *gin.Context) {
	if h.Store == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "store not configured"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account id required"})
		return
	}
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Minutes == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "minutes must be non-zero"})
		return
	}
	balance, err := h.Store.AdjustBalance(c.Request.Context(), id, req.Minutes)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "adjustment failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance_minutes": balance})
}

// --- Notifications ---

func (h Handlers) ListNotifications(c *gin.Context) {
	if h.Store == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "store not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	ns, err := h.Store.ListNotifications(c.Request.Context(), accountID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

// Convenience middleware bundles.

func RequireAccountAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireAccount(), rbac.RequireAnyRole(roles...)}
}
