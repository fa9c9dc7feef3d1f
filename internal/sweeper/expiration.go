package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/store"
)

// MinOrderAge is the floor for per-kind expiry ages
const MinOrderAge = 5 * time.Minute

const expirationBatch = 200

// Expiration expires unpaid orders and returns their resources to the pool
type Expiration struct {
	orders       store.OrderStore
	reservations *reservation.Service
	locks        *keymutex.Manager
	clock        clock.Clock
	ages         map[model.OrderKind]time.Duration
}

// NewExpiration creates the sweeper; ages below MinOrderAge are raised to it
func NewExpiration(orders store.OrderStore, reservations *reservation.Service, locks *keymutex.Manager, c clock.Clock, ages map[model.OrderKind]time.Duration) *Expiration {
	if c == nil {
		c = clock.Real{}
	}
	normalized := make(map[model.OrderKind]time.Duration, 2)
	for _, kind := range []model.OrderKind{model.OrderPurchase, model.OrderCredit} {
		age := ages[kind]
		if age < MinOrderAge {
			age = MinOrderAge
		}
		normalized[kind] = age
	}
	return &Expiration{orders: orders, reservations: reservations, locks: locks, clock: c, ages: normalized}
}

func (e *Expiration) Name() string { return model.JobOrderExpiry }

func (e *Expiration) Run(ctx context.Context, run *model.JobRun) {
	for _, kind := range []model.OrderKind{model.OrderPurchase, model.OrderCredit} {
		err := e.locks.WithLock(ctx, keymutex.OrdersKey(string(kind)), func() error {
			return e.sweepKind(ctx, run, kind)
		})
		if err != nil {
			run.Count("failures", 1)
			slog.Error("Order expiration failed", "kind", kind, "error", err)
		}
	}
}

// sweepKind runs under the orders key of kind
func (e *Expiration) sweepKind(ctx context.Context, run *model.JobRun, kind model.OrderKind) error {
	now := e.clock.Now()
	cutoff := now.Add(-e.ages[kind])

	orders, err := e.orders.FindExpirable(ctx, kind, cutoff, expirationBatch)
	if err != nil {
		return fmt.Errorf("failed to find expirable %s orders: %w", kind, err)
	}
	run.Count("scanned", len(orders))

	for i := range orders {
		if err := e.expire(ctx, run, &orders[i], now); err != nil {
			run.Count("failures", 1)
			slog.Error("Failed to expire order",
				"order_no", orders[i].OrderNo,
				"kind", kind,
				"error", err,
			)
		}
	}
	return nil
}

func (e *Expiration) expire(ctx context.Context, run *model.JobRun, o *model.Order, now time.Time) error {
	err := e.orders.ExpireOrder(ctx, o.OrderNo, now)
	if errors.Is(err, store.ErrLostRace) {
		// paid or expired since the scan
		run.Count("skipped", 1)
		return nil
	}
	if err != nil {
		return err
	}
	run.Count("expired", 1)

	if o.ResourceID == nil {
		return nil
	}
	released, err := e.reservations.Release(ctx, *o.ResourceID, o.OrderNo, false)
	if err != nil {
		return fmt.Errorf("order expired but resource not released: %w", err)
	}
	if released {
		run.Count("released", 1)
	}

	slog.Info("Order expired",
		"order_no", o.OrderNo,
		"kind", o.Kind,
		"resource_released", released,
	)
	return nil
}
