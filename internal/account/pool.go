package account

import (
	"sync"
	"time"

	"github.com/lofyer/warp-multiproxy-go/internal/account/strategies"
	"github.com/lofyer/warp-multiproxy-go/internal/logging"
)

// candidateView adapts *Account to strategies.Candidate without the
// strategies package importing account (keeps the dependency one-way).
type candidateView struct{ a *Account }

func (v candidateView) Name() string { return v.a.Name }
func (v candidateView) IsAvailable(now time.Time, retry429 time.Duration) bool {
	return v.a.IsAvailable(now, retry429)
}
func (v candidateView) RequestCount() int64 {
	v.a.mu.RLock()
	defer v.a.mu.RUnlock()
	return v.a.RequestCount
}
func (v candidateView) RemainingQuota() int64 {
	v.a.mu.RLock()
	defer v.a.mu.RUnlock()
	return v.a.QuotaLimit - v.a.QuotaUsed
}

// Pool is the ordered account list plus selector state.
type Pool struct {
	mu           sync.Mutex
	accounts     []*Account
	strategy     strategies.Strategy
	strategyName string

	store    *Store
	retry429 time.Duration
}

// NewPool constructs an empty pool bound to store, using the named strategy.
func NewPool(store *Store, strategyName string, retry429 time.Duration) *Pool {
	return &Pool{
		store:        store,
		strategy:     strategies.New(strategyName),
		strategyName: strategyName,
		retry429:     retry429,
	}
}

// SaveAccount implements PersistenceSink by delegating to the store; Pool
// owns the Accounts, Accounts hold only this non-owning sink handle.
func (p *Pool) SaveAccount(a *Account) error {
	return p.store.SaveAccount(a)
}

// Load replaces the pool's contents with a fresh directory scan.
func (p *Pool) Load() error {
	accounts, err := p.store.LoadDirectory(p)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()
	return nil
}

// SetStrategy swaps the active selection strategy (admin override / reload).
func (p *Pool) SetStrategy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = strategies.New(name)
	p.strategyName = name
}

// StrategyName returns the active strategy's name.
func (p *Pool) StrategyName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strategyName
}

// Pick selects the next eligible account under the pool mutex: the mutex
// guards only the selector logic, never I/O.
func (p *Pool) Pick() (*Account, error) {
	p.mu.Lock()
	accounts := p.accounts
	strat := p.strategy
	retry429 := p.retry429
	p.mu.Unlock()

	views := make([]strategies.Candidate, len(accounts))
	for i, a := range accounts {
		views[i] = candidateView{a}
	}

	c, err := strat.Select(views, time.Now(), retry429)
	if err != nil {
		return nil, err
	}
	return c.(candidateView).a, nil
}

// PickExcluding selects the next eligible account that isn't in excluded,
// used by the dispatcher's retry loop to avoid re-selecting a just-failed
// account: at most one selection per retry.
func (p *Pool) PickExcluding(excluded map[string]bool) (*Account, error) {
	p.mu.Lock()
	accounts := p.accounts
	strat := p.strategy
	retry429 := p.retry429
	p.mu.Unlock()

	views := make([]strategies.Candidate, 0, len(accounts))
	for _, a := range accounts {
		if excluded[a.Name] {
			continue
		}
		views = append(views, candidateView{a})
	}
	if len(views) == 0 {
		return nil, strategies.ErrNoAvailableAccount
	}
	c, err := strat.Select(views, time.Now(), retry429)
	if err != nil {
		return nil, err
	}
	return c.(candidateView).a, nil
}

// All returns every account currently in the pool (admin /stats, /health).
func (p *Pool) All() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// Get looks up an account by name.
func (p *Pool) Get(name string) (*Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Add appends and persists a new account, rejecting a duplicate name.
func (p *Pool) Add(name, refreshToken string) (*Account, error) {
	p.mu.Lock()
	for _, a := range p.accounts {
		if a.Name == name {
			p.mu.Unlock()
			return nil, ErrDuplicateAccount
		}
	}
	acc := New(name, refreshToken, true, p)
	p.accounts = append(p.accounts, acc)
	p.mu.Unlock()

	if err := p.store.SaveAccount(acc); err != nil {
		logging.L().Warn().Err(err).Str("account", name).Msg("failed to persist new account")
	}
	return acc, nil
}

// DeleteBlocked removes every account whose status is 403 from memory and
// disk.
func (p *Pool) DeleteBlocked() int {
	p.mu.Lock()
	var kept []*Account
	var removed []*Account
	for _, a := range p.accounts {
		a.mu.RLock()
		blocked := a.StatusCode == Status403
		a.mu.RUnlock()
		if blocked {
			removed = append(removed, a)
		} else {
			kept = append(kept, a)
		}
	}
	p.accounts = kept
	p.mu.Unlock()

	for _, a := range removed {
		if err := p.store.DeleteAccountFile(a.Name); err != nil {
			logging.L().Warn().Err(err).Str("account", a.Name).Msg("failed to delete blocked account file")
		}
	}
	return len(removed)
}

// RemoveAccount removes the named account from memory and disk. Used by the
// accounts CLI's interactive remove command.
func (p *Pool) RemoveAccount(name string) error {
	p.mu.Lock()
	var kept []*Account
	found := false
	for _, a := range p.accounts {
		if a.Name == name {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	p.accounts = kept
	p.mu.Unlock()

	if !found {
		return ErrAccountNotFound
	}
	return p.store.DeleteAccountFile(name)
}

// Status summarizes pool health for GET /health and the startup banner.
type Status struct {
	Total          int
	Available      int
	RateLimited    int
	Blocked        int
	QuotaExhausted int
}

// Status computes a point-in-time summary over all accounts.
func (p *Pool) Status() Status {
	now := time.Now()
	p.mu.Lock()
	accounts := make([]*Account, len(p.accounts))
	copy(accounts, p.accounts)
	retry429 := p.retry429
	p.mu.Unlock()

	var s Status
	s.Total = len(accounts)
	for _, a := range accounts {
		if a.IsAvailable(now, retry429) {
			s.Available++
			continue
		}
		a.mu.RLock()
		code := a.StatusCode
		a.mu.RUnlock()
		switch code {
		case Status403:
			s.Blocked++
		case Status429:
			s.RateLimited++
		case StatusQuotaExceeded:
			s.QuotaExhausted++
		}
	}
	return s
}
