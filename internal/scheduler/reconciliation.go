package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/infrastructure/database"
	"go.uber.org/zap"
)

// Settler applies settlement outcomes; the callback service provides the
// production implementation so the scheduler reuses the same
// conditional-update path the webhooks take.
type Settler interface {
	Settle(ctx context.Context, gatewayRef string, gatewayTxnNo string, paidAt time.Time) (bool, error)
	Fail(ctx context.Context, gatewayRef string, responseCode string, message string) (int64, error)
}

// ReconcilerConfig holds the reconciliation thresholds.
type ReconcilerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	ExpireAfter    time.Duration `yaml:"expire_after"`
	QueryCooldown  time.Duration `yaml:"query_cooldown"`
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`
	SuppressionTTL time.Duration `yaml:"suppression_ttl"`
	BatchLimit     int           `yaml:"batch_limit"`
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = 15 * time.Minute
	}
	if c.QueryCooldown <= 0 {
		c.QueryCooldown = 3 * time.Minute
	}
	if c.ResultCacheTTL <= 0 {
		c.ResultCacheTTL = time.Minute
	}
	if c.SuppressionTTL <= 0 {
		c.SuppressionTTL = 30 * time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
}

type cachedQuery struct {
	resp    *gateway.QueryResponse
	expires time.Time
}

// Reconciler periodically queries the gateway for payments stuck in pending
// and applies whatever the gateway says. A per-reference cooldown and a
// short result cache keep it from tripping the gateway's duplicate-request
// rejection; a circuit breaker suppresses all queries for a while after a
// systemic provider fault. It also expires payments pending long enough
// that the redirect must have been abandoned.
type Reconciler struct {
	repos   *database.Repositories
	gateway gateway.Client
	settler Settler
	cfg     ReconcilerConfig
	logger  *zap.Logger

	running atomic.Bool
	breaker *gobreaker.CircuitBreaker[*gateway.QueryResponse]

	mu        sync.Mutex
	lastQuery map[string]time.Time
	results   map[string]cachedQuery
}

// NewReconciler creates a reconciliation scheduler.
func NewReconciler(
	repos *database.Repositories,
	gatewayClient gateway.Client,
	settler Settler,
	cfg ReconcilerConfig,
	logger *zap.Logger,
) *Reconciler {
	cfg.applyDefaults()

	r := &Reconciler{
		repos:     repos,
		gateway:   gatewayClient,
		settler:   settler,
		cfg:       cfg,
		logger:    logger,
		lastQuery: make(map[string]time.Time),
		results:   make(map[string]cachedQuery),
	}
	r.breaker = gobreaker.NewCircuitBreaker[*gateway.QueryResponse](gobreaker.Settings{
		Name:        "gateway-query",
		MaxRequests: 1,
		Timeout:     cfg.SuppressionTTL,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		// Only provider-wide faults trip the breaker; an ordinary
		// per-transaction failure must not suppress the whole batch.
		IsSuccessful: func(err error) bool {
			return err == nil || !gateway.IsSystemic(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway query breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return r
}

// Run drives the reconciler until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	RunForever(ctx, "reconciliation", r.cfg.Interval, r.logger, r.Tick)
}

// Tick runs one reconciliation pass. A tick still in flight causes the new
// one to be skipped rather than stacked.
func (r *Reconciler) Tick(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("reconciliation tick skipped, previous still running")
		return nil
	}
	defer r.running.Store(false)

	now := time.Now().UTC()
	if err := r.expireStale(ctx, now); err != nil {
		r.logger.Error("stale payment expiry failed", zap.Error(err))
	}
	return r.reconcilePending(ctx, now)
}

// expireStale cancels pending payments old enough that the user has clearly
// abandoned the redirect, voiding their draft ledger entry so they can never
// race a late success.
func (r *Reconciler) expireStale(ctx context.Context, now time.Time) error {
	stale, err := r.repos.Payment.ListStalePending(ctx, now.Add(-r.cfg.ExpireAfter), r.cfg.BatchLimit)
	if err != nil {
		return err
	}

	for _, payment := range stale {
		p := payment
		err := r.repos.WithTransaction(ctx, func(repos *database.Repositories) error {
			rows, err := repos.Payment.CancelStale(ctx, p.ID)
			if err != nil {
				return err
			}
			if rows == 0 {
				return nil
			}
			_, err = repos.Transaction.VoidByPaymentID(ctx, p.ID)
			return err
		})
		if err != nil {
			r.logger.Error("failed to expire stale payment",
				zap.Int64("payment_id", p.ID),
				zap.Error(err))
			continue
		}
		r.logger.Info("stale payment cancelled",
			zap.Int64("payment_id", p.ID),
			zap.String("gateway_ref", p.GatewayRef))
	}
	return nil
}

func (r *Reconciler) reconcilePending(ctx context.Context, now time.Time) error {
	pending, err := r.repos.Payment.ListStalePending(ctx, now.Add(-r.cfg.StaleAfter), r.cfg.BatchLimit)
	if err != nil {
		return err
	}

	for _, payment := range pending {
		resp, err := r.query(ctx, payment, now)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				r.logger.Warn("gateway queries suppressed, ending tick early")
				return nil
			}
			r.logger.Error("reconciliation query failed",
				zap.Int64("payment_id", payment.ID),
				zap.String("gateway_ref", payment.GatewayRef),
				zap.Error(err))
			continue
		}
		if resp == nil {
			continue
		}
		if err := r.apply(ctx, payment, resp); err != nil {
			r.logger.Error("failed to apply reconciliation result",
				zap.Int64("payment_id", payment.ID),
				zap.Error(err))
		}
	}
	return nil
}

// query asks the gateway for the payment's status, honoring the
// per-reference cooldown and the result cache. Only systemic faults count
// against the breaker; ordinary per-transaction failures must not suppress
// the whole batch.
func (r *Reconciler) query(ctx context.Context, payment *model.Payment, now time.Time) (*gateway.QueryResponse, error) {
	ref := payment.GatewayRef

	r.mu.Lock()
	if cached, ok := r.results[ref]; ok && now.Before(cached.expires) {
		r.mu.Unlock()
		return cached.resp, nil
	}
	if last, ok := r.lastQuery[ref]; ok && now.Sub(last) < r.cfg.QueryCooldown {
		r.mu.Unlock()
		return nil, nil
	}
	r.lastQuery[ref] = now
	r.mu.Unlock()

	resp, err := r.breaker.Execute(func() (*gateway.QueryResponse, error) {
		return r.gateway.QueryTransaction(ctx, &gateway.QueryRequest{
			Reference:   ref,
			RequesterIP: payment.ClientIP,
			CreatedAt:   payment.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	if resp.Throttled {
		r.mu.Lock()
		r.lastQuery[ref] = now.Add(resp.RetryAfter)
		r.mu.Unlock()
		return nil, nil
	}

	r.mu.Lock()
	r.results[ref] = cachedQuery{resp: resp, expires: now.Add(r.cfg.ResultCacheTTL)}
	r.mu.Unlock()
	return resp, nil
}

func (r *Reconciler) apply(ctx context.Context, payment *model.Payment, resp *gateway.QueryResponse) error {
	switch {
	case resp.Succeeded():
		settled, err := r.settler.Settle(ctx, payment.GatewayRef, resp.TransactionNo, time.Now().UTC())
		if err != nil {
			return err
		}
		if settled {
			r.logger.Info("payment settled by reconciliation",
				zap.Int64("payment_id", payment.ID),
				zap.String("gateway_ref", payment.GatewayRef))
		}
		r.forget(payment.GatewayRef)
	case resp.Failed():
		if _, err := r.settler.Fail(ctx, payment.GatewayRef, resp.ResponseCode, "gateway query reported failure"); err != nil {
			return err
		}
		r.forget(payment.GatewayRef)
	}
	return nil
}

// forget drops cooldown and cache state for a reference that reached a
// terminal status; the maps only track live pending payments.
func (r *Reconciler) forget(ref string) {
	r.mu.Lock()
	delete(r.lastQuery, ref)
	delete(r.results, ref)
	r.mu.Unlock()
}
