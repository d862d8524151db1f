// Package strategies implements the four account-selection policies (C3).
package strategies

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrNoAvailableAccount is raised when a strategy can find no eligible
// candidate; the dispatcher surfaces this to the client as HTTP 503.
var ErrNoAvailableAccount = errors.New("no available account")

// Candidate is the minimal view a strategy needs of an account; account.Account
// satisfies this via the adapter in the account package to avoid an import
// cycle (strategies must not depend on account).
type Candidate interface {
	Name() string
	IsAvailable(now time.Time, retry429 time.Duration) bool
	RequestCount() int64
	RemainingQuota() int64
}

const (
	RoundRobin = "round-robin"
	Random     = "random"
	LeastUsed  = "least-used"
	QuotaAware = "quota-aware"
)

// Strategy picks the next eligible candidate from accounts.
type Strategy interface {
	Select(accounts []Candidate, now time.Time, retry429 time.Duration) (Candidate, error)
}

// New returns the strategy implementation for name, defaulting to
// round-robin for an unrecognized name.
func New(name string) Strategy {
	switch name {
	case Random:
		return &randomStrategy{}
	case LeastUsed:
		return &leastUsedStrategy{}
	case QuotaAware:
		return &quotaAwareStrategy{}
	default:
		return NewRoundRobin()
	}
}

// roundRobinStrategy advances a shared cursor, skipping unavailable
// accounts, and only gives up after a full two-pass sweep finds none. The
// cursor never resets on a skip and tolerates a full wrap.
type roundRobinStrategy struct {
	mu     sync.Mutex
	cursor int
}

// NewRoundRobin constructs a fresh round-robin strategy with cursor at 0.
func NewRoundRobin() *roundRobinStrategy {
	return &roundRobinStrategy{}
}

func (r *roundRobinStrategy) Select(accounts []Candidate, now time.Time, retry429 time.Duration) (Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(accounts)
	if n == 0 {
		return nil, ErrNoAvailableAccount
	}

	for i := 0; i < n*2; i++ {
		idx := (r.cursor + 1 + i) % n
		c := accounts[idx]
		if c.IsAvailable(now, retry429) {
			r.cursor = idx
			return c, nil
		}
	}
	return nil, ErrNoAvailableAccount
}

// ResetCursor rewinds the round-robin cursor, used by /accounts/reload.
func (r *roundRobinStrategy) ResetCursor() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = -1
}

type randomStrategy struct{}

func (randomStrategy) Select(accounts []Candidate, now time.Time, retry429 time.Duration) (Candidate, error) {
	avail := availableOf(accounts, now, retry429)
	if len(avail) == 0 {
		return nil, ErrNoAvailableAccount
	}
	return avail[rand.Intn(len(avail))], nil
}

type leastUsedStrategy struct{}

func (leastUsedStrategy) Select(accounts []Candidate, now time.Time, retry429 time.Duration) (Candidate, error) {
	avail := availableOf(accounts, now, retry429)
	if len(avail) == 0 {
		return nil, ErrNoAvailableAccount
	}
	best := avail[0]
	for _, c := range avail[1:] {
		if c.RequestCount() < best.RequestCount() {
			best = c
		}
	}
	return best, nil
}

type quotaAwareStrategy struct{}

func (quotaAwareStrategy) Select(accounts []Candidate, now time.Time, retry429 time.Duration) (Candidate, error) {
	avail := availableOf(accounts, now, retry429)
	if len(avail) == 0 {
		return nil, ErrNoAvailableAccount
	}
	best := avail[0]
	for _, c := range avail[1:] {
		if c.RemainingQuota() > best.RemainingQuota() {
			best = c
		}
	}
	return best, nil
}

func availableOf(accounts []Candidate, now time.Time, retry429 time.Duration) []Candidate {
	out := make([]Candidate, 0, len(accounts))
	for _, c := range accounts {
		if c.IsAvailable(now, retry429) {
			out = append(out, c)
		}
	}
	return out
}

// Label returns a human-readable label for a strategy name, for the startup banner.
func Label(name string) string {
	switch name {
	case RoundRobin:
		return "Round Robin"
	case Random:
		return "Random"
	case LeastUsed:
		return "Least Used"
	case QuotaAware:
		return "Quota Aware"
	default:
		return name
	}
}
