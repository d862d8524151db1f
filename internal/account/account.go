// Package account implements the account pool: the durable/volatile record
// and state machine (C2), the per-directory JSON store (C1), and the
// strategy-based selector (C3).
package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// StatusCode is the closed set of durable status tags.
type StatusCode string

const (
	StatusNone          StatusCode = ""
	Status403           StatusCode = "403"
	Status429           StatusCode = "429"
	StatusQuotaExceeded StatusCode = "quota_exceeded"
)

// State is the human-readable state-machine label; it is derived from the
// durable fields, never stored directly.
type State string

const (
	StateAvailable      State = "Available"
	StateRateLimited    State = "RateLimited"
	StateBlocked        State = "Blocked"
	StateQuotaExhausted State = "QuotaExhausted"
	StateDisabled       State = "Disabled"
)

// PersistenceSink is the non-owning handle an Account calls to trigger a
// save after a status mutation. Modeling it as an interface (rather than a
// back-reference to the owning Pool) avoids a cyclic object graph.
type PersistenceSink interface {
	SaveAccount(a *Account) error
}

// Account is one Warp login in the pool: durable identity and status plus
// the volatile session and usage state layered on top.
type Account struct {
	mu sync.RWMutex

	// Durable fields, persisted to <sanitized(name)>.json.
	Name          string
	RefreshToken  string
	Enabled       bool
	StatusCode    StatusCode
	LastRefreshed *time.Time
	LastAttempt   *time.Time

	// Volatile fields, memory-only.
	AccessToken       string
	AccessTokenExpiry time.Time
	IsLoggedIn        bool
	SessionCookies    map[string]string
	ActiveTaskID      string
	RequestCount      int64
	ErrorCount        int64
	LastUsed          time.Time
	LastError         string
	QuotaLimit        int64
	QuotaUsed         int64
	QuotaResetDate    time.Time
	LastQuotaCheck    time.Time

	sink    PersistenceSink
	breaker *gobreaker.CircuitBreaker
}

// New constructs an Account from its durable fields. sink may be nil for
// accounts not yet attached to a pool (e.g. during tests).
func New(name, refreshToken string, enabled bool, sink PersistenceSink) *Account {
	return &Account{
		Name:         name,
		RefreshToken: refreshToken,
		Enabled:      enabled,
		StatusCode:   StatusNone,
		sink:         sink,
	}
}

// AttachBreaker wires a per-account circuit breaker; upstream 5xx series
// that aren't already covered by an explicit status (403/429/quota) trip it
// without touching durable state.
func (a *Account) AttachBreaker(b *gobreaker.CircuitBreaker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.breaker = b
}

// BreakerOpen reports whether this account's breaker is currently tripped;
// the selector treats an open breaker as temporarily unavailable without
// touching StatusCode (a nil breaker, e.g. circuit.enabled=false, always
// allows).
func (a *Account) BreakerOpen() bool {
	a.mu.RLock()
	b := a.breaker
	a.mu.RUnlock()
	return b != nil && b.State() == gobreaker.StateOpen
}

// BreakerSuccess records a successful upstream call against the breaker.
func (a *Account) BreakerSuccess() {
	a.mu.RLock()
	b := a.breaker
	a.mu.RUnlock()
	if b == nil {
		return
	}
	_, _ = b.Execute(func() (interface{}, error) { return nil, nil })
}

// BreakerFailure records a failed upstream call (a 5xx not already covered
// by an explicit 403/429/quota status) against the breaker.
func (a *Account) BreakerFailure() {
	a.mu.RLock()
	b := a.breaker
	a.mu.RUnlock()
	if b == nil {
		return
	}
	_, _ = b.Execute(func() (interface{}, error) { return nil, fmt.Errorf("upstream failure") })
}

func (a *Account) persist() {
	if a.sink != nil {
		_ = a.sink.SaveAccount(a)
	}
}

// IsAvailable is the sole predicate the selector consults. It performs lazy
// recovery: a RateLimited account past its retry interval, or a
// QuotaExhausted account past its reset instant, clears its own status as a
// side effect of being queried; the quota-reset check runs before the
// status-code switch.
func (a *Account) IsAvailable(now time.Time, retry429 time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		return false
	}

	if a.breaker != nil && a.breaker.State() == gobreaker.StateOpen {
		return false
	}

	if a.StatusCode == StatusQuotaExceeded && !a.QuotaResetDate.IsZero() && !now.Before(a.QuotaResetDate) {
		a.StatusCode = StatusNone
		a.QuotaUsed = 0
		a.QuotaResetDate = time.Time{}
	}

	switch a.StatusCode {
	case StatusNone:
		return true
	case Status429:
		if a.LastAttempt == nil {
			// No recorded attempt: treat as already recovered.
			a.StatusCode = StatusNone
			a.LastAttempt = nil
			return true
		}
		if now.Sub(*a.LastAttempt) >= retry429 {
			a.StatusCode = StatusNone
			a.LastAttempt = nil
			return true
		}
		return false
	case Status403:
		return false
	case StatusQuotaExceeded:
		return false
	default:
		return false
	}
}

// MarkBlocked sets the 403 "Blocked" status.
func (a *Account) MarkBlocked() {
	a.mu.Lock()
	a.StatusCode = Status403
	a.mu.Unlock()
	a.persist()
}

// MarkRateLimited sets the 429 "RateLimited" status with last_attempt=now.
func (a *Account) MarkRateLimited(now time.Time) {
	a.mu.Lock()
	a.StatusCode = Status429
	a.LastAttempt = &now
	a.mu.Unlock()
	a.persist()
}

// MarkQuotaExceeded sets QuotaExhausted with reset at the first instant of
// next calendar month, local time.
func (a *Account) MarkQuotaExceeded(now time.Time) {
	y, m, _ := now.Date()
	resetAt := time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
	a.mu.Lock()
	a.StatusCode = StatusQuotaExceeded
	a.QuotaResetDate = resetAt
	a.mu.Unlock()
	a.persist()
}

// ShouldCheckQuota reports whether the last GraphQL usage refresh is stale
// enough to warrant another best-effort call.
func (a *Account) ShouldCheckQuota(now time.Time, interval time.Duration) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return now.Sub(a.LastQuotaCheck) >= interval
}

// MarkQuotaCheckAttempted records that a usage refresh was attempted even
// though it failed, so a persistently unreachable GraphQL endpoint doesn't
// get retried on every single admin poll.
func (a *Account) MarkQuotaCheckAttempted(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastQuotaCheck = now
}

// SetQuota records the limit/used counters from a GraphQL usage refresh.
// Crossing the limit mirrors the same quota_exceeded transition a 429 body
// carrying "No remaining quota" would cause.
func (a *Account) SetQuota(limit, used int64, now time.Time) {
	a.mu.Lock()
	a.QuotaLimit = limit
	a.QuotaUsed = used
	a.LastQuotaCheck = now
	exceeded := limit > 0 && used >= limit
	a.mu.Unlock()
	if exceeded {
		a.MarkQuotaExceeded(now)
	}
}

// MarkTokenRefreshed records a successful refresh and persists.
func (a *Account) MarkTokenRefreshed(now time.Time) {
	a.mu.Lock()
	a.LastRefreshed = &now
	a.mu.Unlock()
	a.persist()
}

// MarkUsed bumps the in-memory counters on a successful upstream call;
// counters are never persisted.
func (a *Account) MarkUsed(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RequestCount++
	a.QuotaUsed++
	a.LastUsed = now
}

// MarkError records the last error message for the admin surface without
// mutating durable status: a transient network fault isn't a status change.
func (a *Account) MarkError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ErrorCount++
	a.LastError = msg
}

// IsTokenExpired reports whether the access token is absent or within the
// 10-minute safety buffer of expiring.
func (a *Account) IsTokenExpired(now time.Time) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.AccessToken == "" {
		return true
	}
	return a.AccessTokenExpiry.Sub(now) < 10*time.Minute
}

// SetToken installs a refreshed access token and its expiry.
func (a *Account) SetToken(token string, expiry time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AccessToken = token
	a.AccessTokenExpiry = expiry
}

// SetRefreshToken replaces the stored refresh token (upstream rotated it).
func (a *Account) SetRefreshToken(rt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RefreshToken = rt
}

// SetLoggedIn flips the session-established flag and stores cookies.
func (a *Account) SetLoggedIn(cookies map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.IsLoggedIn = true
	a.SessionCookies = cookies
}

// SetActiveTaskID records the most recently observed conversation id. Races
// across concurrent calls on one account are last-writer-wins by design:
// continuation relies on folding history into the query text, not on the id
// surviving.
func (a *Account) SetActiveTaskID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ActiveTaskID = id
}

// Snapshot is a read-only copy used by the admin surface and the selector's
// ranking strategies (least-used, quota-aware); it never exposes secrets.
type Snapshot struct {
	Name         string
	Enabled      bool
	StatusCode   StatusCode
	RequestCount int64
	ErrorCount   int64
	QuotaLimit   int64
	QuotaUsed    int64
	LastUsed     time.Time
	LastError    string
	ActiveTaskID string
}

// Snapshot returns the current read-only view of the account.
func (a *Account) Snap() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Name:         a.Name,
		Enabled:      a.Enabled,
		StatusCode:   a.StatusCode,
		RequestCount: a.RequestCount,
		ErrorCount:   a.ErrorCount,
		QuotaLimit:   a.QuotaLimit,
		QuotaUsed:    a.QuotaUsed,
		LastUsed:     a.LastUsed,
		LastError:    a.LastError,
		ActiveTaskID: a.ActiveTaskID,
	}
}

// durableRecord is the exact on-disk JSON shape: mandatory fields always
// present, optional status fields omitted when null.
type durableRecord struct {
	Name          string  `json:"name"`
	RefreshToken  string  `json:"refresh_token"`
	Enabled       bool    `json:"enabled"`
	StatusCode    *string `json:"status_code,omitempty"`
	LastRefreshed *string `json:"last_refreshed,omitempty"`
	LastAttempt   *string `json:"last_attempt,omitempty"`
}

func (a *Account) toDurableRecord() durableRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r := durableRecord{Name: a.Name, RefreshToken: a.RefreshToken, Enabled: a.Enabled}
	if a.StatusCode != StatusNone {
		s := string(a.StatusCode)
		r.StatusCode = &s
	}
	if a.LastRefreshed != nil {
		s := a.LastRefreshed.UTC().Format(time.RFC3339)
		r.LastRefreshed = &s
	}
	if a.LastAttempt != nil {
		s := a.LastAttempt.UTC().Format(time.RFC3339)
		r.LastAttempt = &s
	}
	return r
}

func fromDurableRecord(r durableRecord, sink PersistenceSink) *Account {
	a := New(r.Name, r.RefreshToken, r.Enabled, sink)
	if r.StatusCode != nil {
		a.StatusCode = StatusCode(*r.StatusCode)
	}
	if r.LastRefreshed != nil {
		if t, err := time.Parse(time.RFC3339, *r.LastRefreshed); err == nil {
			a.LastRefreshed = &t
		}
	}
	if r.LastAttempt != nil {
		if t, err := time.Parse(time.RFC3339, *r.LastAttempt); err == nil {
			a.LastAttempt = &t
		}
	}
	return a
}
