package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/model"
	"donation-platform/internal/repository"

	"github.com/rs/zerolog"
)

// AccessGate is the read contract for feature code. It never writes and it
// fails closed: any doubt means no access.
type AccessGate interface {
	HasActiveAccess(ctx context.Context, accountID string) bool
	Access(ctx context.Context, accountID string) (model.AccountAccessFlag, error)
	// Watch re-polls every interval and calls onChange whenever the answer flips.
	// The initial answer is false until the first lookup succeeds.
	Watch(ctx context.Context, accountID string, interval time.Duration, onChange func(hasAccess bool)) *Watcher
}

type accessGateImpl struct {
	accountRepo     repository.AccountRepository
	defaultInterval time.Duration
	log             zerolog.Logger
}

func NewAccessGate(accountRepo repository.AccountRepository, pollInterval time.Duration, log zerolog.Logger) AccessGate {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &accessGateImpl{
		accountRepo:     accountRepo,
		defaultInterval: pollInterval,
		log:             log.With().Str("component", "access").Logger(),
	}
}

func (g *accessGateImpl) Access(ctx context.Context, accountID string) (model.AccountAccessFlag, error) {
	const op = "access.Access"

	if accountID == "" {
		return model.AccountAccessFlag{}, apperr.New(apperr.KindInvalidArgument, op, "account id is required")
	}

	account, err := g.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return model.AccountAccessFlag{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	if account == nil {
		return model.DeriveAccessFlag(accountID, nil), nil
	}
	return model.AccessFlagFromAccount(account), nil
}

func (g *accessGateImpl) HasActiveAccess(ctx context.Context, accountID string) bool {
	flag, err := g.Access(ctx, accountID)
	if err != nil {
		g.log.Warn().Err(err).Str("account_id", accountID).Msg("access lookup failed, denying")
		return false
	}
	return flag.HasActiveAccess
}

func (g *accessGateImpl) Watch(ctx context.Context, accountID string, interval time.Duration, onChange func(bool)) *Watcher {
	if interval <= 0 {
		interval = g.defaultInterval
	}

	w := &Watcher{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run(ctx, interval, func(ctx context.Context) bool {
		return g.HasActiveAccess(ctx, accountID)
	}, onChange)
	return w
}

// Watcher is a running access poll. Stop it when the caller goes away.
type Watcher struct {
	current  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (w *Watcher) run(ctx context.Context, interval time.Duration, check func(context.Context) bool, onChange func(bool)) {
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh := func() {
		next := check(ctx)
		if w.current.Swap(next) != next && onChange != nil {
			onChange(next)
		}
	}

	refresh()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// HasActiveAccess is the last polled answer.
func (w *Watcher) HasActiveAccess() bool {
	return w.current.Load()
}

// Stop ends the poll and waits for an in-flight lookup to finish. Safe to call twice.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}
