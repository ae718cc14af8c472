package balancecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/services/ledger"
)

const invalidateTimeout = 2 * time.Second

// Store holds cached balances. Get reports ok=false on a miss.
type Store interface {
	Get(ctx context.Context, userID string) (balance int64, ok bool, err error)
	Set(ctx context.Context, userID string, balance int64, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

// Source is the authoritative balance reader.
type Source interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// Cache is a read-through balance view. It is eventually consistent with the
// ledger: entries are dropped on BalanceChanged and expire after the poll
// interval otherwise.
type Cache struct {
	src   Source
	store Store
	ttl   time.Duration
}

func New(src Source, store Store, pollInterval time.Duration) *Cache {
	return &Cache{src: src, store: store, ttl: pollInterval}
}

// PollInterval is how often clients should refresh.
func (c *Cache) PollInterval() time.Duration {
	return c.ttl
}

// Get returns the cached balance or loads it. Users never created read as 0.
// Store failures degrade to a direct read.
func (c *Cache) Get(ctx context.Context, userID string) (int64, error) {
	log := logging.FromContext(ctx)

	balance, ok, err := c.store.Get(ctx, userID)
	if err != nil {
		log.Warn("balance cache read", "user_id", userID, "error", err)
	}

	if ok {
		return balance, nil
	}

	balance, err = c.src.GetBalance(ctx, userID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			return 0, fmt.Errorf("load balance: %w", err)
		}

		balance = 0
	}

	err = c.store.Set(ctx, userID, balance, c.ttl)
	if err != nil {
		log.Warn("balance cache write", "user_id", userID, "error", err)
	}

	return balance, nil
}

// Invalidate drops the entry for ev.UserID. It is meant to be passed to
// ledger.Service.Subscribe.
func (c *Cache) Invalidate(ev ledger.BalanceChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	err := c.store.Delete(ctx, ev.UserID)
	if err != nil {
		logging.FromContext(ctx).Warn("balance cache invalidate", "user_id", ev.UserID, "error", err)
	}
}
