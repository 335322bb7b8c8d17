// Package registry implements the process-wide account directory: a
// token-keyed map to *account.Account, with a name uniqueness index,
// guarded by one RWMutex so lookups stay lock-free relative to each
// other. Registry state is purely in-process and ephemeral; durable
// persistence across restarts is internal/store's separate concern.
package registry

import (
	"sync"

	"github.com/zillionare-go/backtest/internal/account"
	"github.com/zillionare-go/backtest/internal/bterrors"
)

// Registry is the process-wide token -> Account directory.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]*account.Account
	byName  map[string]string // name -> token, for uniqueness
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		byToken: map[string]*account.Account{},
		byName:  map[string]string{},
	}
}

// Create inserts a newly-started account, enforcing name and token
// uniqueness.
func (r *Registry) Create(acct *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byToken[acct.Token]; exists {
		return bterrors.AccountErr(bterrors.AccountExists, "token already in use")
	}
	if _, exists := r.byName[acct.Name]; exists {
		return bterrors.AccountErr(bterrors.AccountExists, "account name already in use")
	}

	r.byToken[acct.Token] = acct
	r.byName[acct.Name] = acct.Token
	return nil
}

// Lookup resolves a bearer token to its Account.
func (r *Registry) Lookup(token string) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.byToken[token]
	if !ok {
		return nil, bterrors.AccountErr(bterrors.Unauthorized, "unknown token")
	}
	return acct, nil
}

// Delete removes one account by name.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byName[name]
	if !ok {
		return bterrors.AccountErr(bterrors.NotFound, "no such account: "+name)
	}
	delete(r.byName, name)
	delete(r.byToken, token)
	return nil
}

// DeleteAll removes every account, backing the admin-token cross-account
// delete path.
func (r *Registry) DeleteAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byToken = map[string]*account.Account{}
	r.byName = map[string]string{}
}

// Names returns every registered account name, sorted is not guaranteed
// (caller sorts if presentation order matters).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Replace swaps in a restored account under its own token (internal/store
// "load_backtest"), replacing any existing registration for that name.
func (r *Registry) Replace(acct *account.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldToken, ok := r.byName[acct.Name]; ok {
		delete(r.byToken, oldToken)
	}
	r.byToken[acct.Token] = acct
	r.byName[acct.Name] = acct.Token
}
