// Package cache provides a read-through account cache with an explicit invalidation contract.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"edge-guard/backend/internal/account/domain"
	"edge-guard/backend/internal/account/repository"
)

// DefaultTTL is how long an account record is served from memory before it is re-read.
const DefaultTTL = 5 * time.Minute

const (
	numCounters = 1e5
	maxCost     = 1e4
	bufferItems = 64
)

// Accounts is a read-through cache over an account repository.
// Entries expire after the TTL; Invalidate and Refresh drop them earlier.
// Missing accounts are not cached.
type Accounts struct {
	repo  repository.Repository
	cache *ristretto.Cache[string, *domain.Account]
	ttl   time.Duration
}

// New returns an Accounts cache over repo. A non-positive ttl uses DefaultTTL.
func New(repo repository.Repository, ttl time.Duration) (*Accounts, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *domain.Account]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Accounts{repo: repo, cache: c, ttl: ttl}, nil
}

// GetByUsername returns the account for username, loading it from the repository on a miss.
func (a *Accounts) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	if acct, ok := a.cache.Get(usernameKey(username)); ok {
		return acct, nil
	}
	acct, err := a.repo.GetByUsername(ctx, username)
	if err != nil || acct == nil {
		return nil, err
	}
	a.store(acct)
	return acct, nil
}

// GetByID returns the account for id, loading it from the repository on a miss.
func (a *Accounts) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	if acct, ok := a.cache.Get(idKey(id)); ok {
		return acct, nil
	}
	acct, err := a.repo.GetByID(ctx, id)
	if err != nil || acct == nil {
		return nil, err
	}
	a.store(acct)
	return acct, nil
}

// Invalidate drops every cached entry for acct. The next read goes to the repository.
func (a *Accounts) Invalidate(acct *domain.Account) {
	if acct == nil {
		return
	}
	a.cache.Del(usernameKey(acct.Username))
	a.cache.Del(idKey(acct.ID))
}

// InvalidateID drops the cached entries for the account with id, when present.
func (a *Accounts) InvalidateID(id int64) {
	if acct, ok := a.cache.Get(idKey(id)); ok {
		a.Invalidate(acct)
		return
	}
	a.cache.Del(idKey(id))
}

// Refresh drops the cached entry for username and reloads it from the repository.
func (a *Accounts) Refresh(ctx context.Context, username string) (*domain.Account, error) {
	if acct, ok := a.cache.Get(usernameKey(username)); ok {
		a.Invalidate(acct)
	} else {
		a.cache.Del(usernameKey(username))
	}
	return a.GetByUsername(ctx, username)
}

// Close stops the cache's background goroutines.
func (a *Accounts) Close() {
	a.cache.Close()
}

func (a *Accounts) store(acct *domain.Account) {
	a.cache.SetWithTTL(usernameKey(acct.Username), acct, 1, a.ttl)
	a.cache.SetWithTTL(idKey(acct.ID), acct, 1, a.ttl)
	a.cache.Wait()
}

func usernameKey(username string) string { return "u:" + username }

func idKey(id int64) string { return "id:" + strconv.FormatInt(id, 10) }
