package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lofyer/warp-multiproxy-go/internal/account"
	"github.com/lofyer/warp-multiproxy-go/internal/config"
	"github.com/lofyer/warp-multiproxy-go/internal/logging"
	"github.com/lofyer/warp-multiproxy-go/internal/session"
)

// AccountsHandler serves GET /stats and the POST /accounts/* admin
// operations.
type AccountsHandler struct {
	pool       *account.Pool
	cfg        *config.Config
	sessionCli *session.Client
}

// NewAccountsHandler constructs an AccountsHandler.
func NewAccountsHandler(pool *account.Pool, cfg *config.Config, sessionCli *session.Client) *AccountsHandler {
	return &AccountsHandler{pool: pool, cfg: cfg, sessionCli: sessionCli}
}

type accountStat struct {
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	StatusCode   string `json:"status_code"`
	RequestCount int64  `json:"request_count"`
	ErrorCount   int64  `json:"error_count"`
	QuotaLimit   int64  `json:"quota_limit"`
	QuotaUsed    int64  `json:"quota_used"`
	LastUsed     string `json:"last_used,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	ActiveTaskID string `json:"active_task_id,omitempty"`
}

// quotaCheckInterval bounds how often Stats kicks off a GraphQL usage
// refresh for a given account; the returned numbers can lag upstream by up
// to this much.
const quotaCheckInterval = 10 * time.Minute

// Stats handles GET /stats: totals plus a per-account snapshot that
// excludes every secret field (refresh token, access token, cookies).
// Quota numbers come from the last GraphQL usage refresh; a stale account
// triggers another one in the background so the NEXT call sees fresh
// numbers, keeping this admin endpoint itself non-blocking.
func (h *AccountsHandler) Stats(c *gin.Context) {
	status := h.pool.Status()
	accounts := h.pool.All()

	stats := make([]accountStat, 0, len(accounts))
	for _, a := range accounts {
		if a.IsLoggedIn && a.ShouldCheckQuota(time.Now(), quotaCheckInterval) {
			go h.refreshQuota(a)
		}
		snap := a.Snap()
		s := accountStat{
			Name:         snap.Name,
			Enabled:      snap.Enabled,
			StatusCode:   string(snap.StatusCode),
			RequestCount: snap.RequestCount,
			ErrorCount:   snap.ErrorCount,
			QuotaLimit:   snap.QuotaLimit,
			QuotaUsed:    snap.QuotaUsed,
			LastError:    snap.LastError,
			ActiveTaskID: snap.ActiveTaskID,
		}
		if !snap.LastUsed.IsZero() {
			s.LastUsed = snap.LastUsed.Format("2006-01-02T15:04:05Z07:00")
		}
		stats = append(stats, s)
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy": h.pool.StrategyName(),
		"counts": gin.H{
			"total":           status.Total,
			"available":       status.Available,
			"rate_limited":    status.RateLimited,
			"blocked":         status.Blocked,
			"quota_exhausted": status.QuotaExhausted,
		},
		"accounts": stats,
	})
}

// Reload handles POST /accounts/reload: re-reads settings.json and rescans
// the accounts directory, rebuilding the pool in place.
func (h *AccountsHandler) Reload(c *gin.Context) {
	if err := h.cfg.Reload(); err != nil {
		logging.L().Warn().Err(err).Msg("config reload failed")
	}
	if err := h.pool.Load(); err != nil {
		writeAPIError(c, http.StatusInternalServerError, "api_error", err.Error())
		return
	}
	h.pool.SetStrategy(h.cfg.Pool.Strategy)
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

type addAccountRequest struct {
	Name         string `json:"name"`
	RefreshToken string `json:"refresh_token"`
}

// Add handles POST /accounts/add: appends and persists one account,
// rejecting a duplicate name.
func (h *AccountsHandler) Add(c *gin.Context) {
	var req addAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeAPIError(c, http.StatusBadRequest, "invalid_request_error", "refresh_token is required")
		return
	}
	name := req.Name
	if name == "" {
		name = req.RefreshToken[:minInt(8, len(req.RefreshToken))]
	}

	acc, err := h.pool.Add(name, req.RefreshToken)
	if err != nil {
		writeAPIError(c, http.StatusConflict, "invalid_request_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added", "name": acc.Name})
}

// Refresh handles POST /accounts/refresh: a serial refresh of every token
// that needs one, pausing RefreshInterval between calls so a burst of
// expired tokens doesn't hammer the upstream auth endpoint all at once.
func (h *AccountsHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	refreshed := 0
	var failures []string
	needsRefresh := false
	for _, a := range h.pool.All() {
		if !a.IsTokenExpired(time.Now()) && a.IsLoggedIn {
			continue
		}
		if needsRefresh {
			if err := sleepCtx(ctx, h.cfg.Retry.RefreshInterval); err != nil {
				break
			}
		}
		needsRefresh = true
		if err := h.sessionCli.EnsureReady(ctx, a); err != nil {
			failures = append(failures, a.Name+": "+err.Error())
			continue
		}
		refreshed++
	}
	c.JSON(http.StatusOK, gin.H{"status": "done", "refreshed": refreshed, "failures": failures})
}

// refreshQuota runs one best-effort GetRequestLimitInfo call and updates a's
// counters. Errors are logged, not surfaced: quota is an admin-surface
// nicety, never a reason to fail a request.
func (h *AccountsHandler) refreshQuota(a *account.Account) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Retry.RequestTimeout)
	defer cancel()
	info, err := h.sessionCli.FetchUsage(ctx, a)
	if err != nil {
		logging.L().Warn().Err(err).Str("account", a.Name).Msg("quota refresh failed")
		a.MarkQuotaCheckAttempted(time.Now())
		return
	}
	a.SetQuota(info.RequestLimit, info.RequestsUsed, time.Now())
}

// sleepCtx pauses for d unless ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteBlocked handles POST /accounts/delete-blocked: removes every
// account whose status_code == "403" from memory and disk.
func (h *AccountsHandler) DeleteBlocked(c *gin.Context) {
	removed := h.pool.DeleteBlocked()
	c.JSON(http.StatusOK, gin.H{"status": "done", "removed": removed})
}

func writeAPIError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message, "type": errType}})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
