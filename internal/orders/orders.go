// Package orders implements the purchase and credit order flow. An order
// reserves one resource on creation and redeems it on payment; unpaid orders
// are expired by the expiration sweeper.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/store"
	"github.com/google/uuid"
)

// Service creates and settles orders
type Service struct {
	store        store.OrderStore
	reservations *reservation.Service
	locks        *keymutex.Manager
	clock        clock.Clock
}

// NewService creates an order service
func NewService(s store.OrderStore, reservations *reservation.Service, locks *keymutex.Manager, c clock.Clock) *Service {
	if c == nil {
		c = clock.Real{}
	}
	return &Service{store: s, reservations: reservations, locks: locks, clock: c}
}

// Create opens an order for email and reserves a resource from sel
func (s *Service) Create(ctx context.Context, kind model.OrderKind, email string, sel model.ResourceSelector) (*model.Order, error) {
	if !kind.Valid() {
		return nil, model.ValidationError("invalid order kind %q", kind)
	}
	email, err := model.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := &model.Order{
		OrderNo:   newOrderNo(kind),
		Kind:      kind,
		Email:     email,
		Status:    model.OrderCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.locks.WithLock(ctx, keymutex.OrdersKey(string(kind)), func() error {
		res, err := s.reservations.ReserveFor(ctx, sel, order.Holder())
		if err != nil {
			return err
		}
		order.ResourceID = &res.ID

		if err := s.store.InsertOrder(ctx, order); err != nil {
			if _, relErr := s.reservations.Release(ctx, res.ID, order.OrderNo, false); relErr != nil {
				slog.Error("Failed to release resource of unsaved order",
					"order_no", order.OrderNo,
					"resource_id", res.ID.Hex(),
					"error", relErr,
				)
			}
			return fmt.Errorf("failed to save order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Order created",
		"order_no", order.OrderNo,
		"kind", kind,
		"resource_id", order.ResourceID.Hex(),
	)
	return order, nil
}

// Get returns an order by number
func (s *Service) Get(ctx context.Context, orderNo string) (*model.Order, error) {
	return s.store.GetOrder(ctx, strings.TrimSpace(orderNo))
}

// MarkPaid redeems the order's resource and then settles the order, so a
// failed redemption leaves the order unpaid and expirable. It runs under the
// same key as the expiration sweeper for the order's kind.
func (s *Service) MarkPaid(ctx context.Context, orderNo string) (*model.Order, error) {
	current, err := s.Get(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	var paid *model.Order
	err = s.locks.WithLock(ctx, keymutex.OrdersKey(string(current.Kind)), func() error {
		order, err := s.store.GetOrder(ctx, current.OrderNo)
		if err != nil {
			return err
		}
		if order.Status != model.OrderCreated && order.Status != model.OrderPendingPayment {
			return model.ConflictError("order %s is %s", order.OrderNo, order.Status)
		}

		if order.ResourceID != nil {
			if err := s.redeem(ctx, order); err != nil {
				return err
			}
		}

		if err := s.store.MarkOrderPaid(ctx, order.OrderNo, s.clock.Now()); err != nil {
			if errors.Is(err, store.ErrLostRace) {
				slog.Error("Order resource redeemed but order changed before settling",
					"order_no", order.OrderNo,
					"resource_id", order.ResourceID.Hex(),
				)
				return model.ConflictError("order %s changed concurrently", order.OrderNo)
			}
			return err
		}

		paid, err = s.store.GetOrder(ctx, order.OrderNo)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Order paid", "order_no", paid.OrderNo, "kind", paid.Kind)
	return paid, nil
}

// redeem consumes the order's resource. A resource this order already
// redeemed counts as done, so an interrupted payment can be retried.
func (s *Service) redeem(ctx context.Context, order *model.Order) error {
	err := s.reservations.Redeem(ctx, *order.ResourceID, order.OrderNo, order.Email)
	if err == nil || !errors.Is(err, model.ErrConflict) {
		return err
	}

	res, getErr := s.reservations.Get(ctx, *order.ResourceID)
	if getErr == nil && res.State == model.ResourceRedeemed && res.Holder != nil && res.Holder.Ref == order.OrderNo {
		return nil
	}
	slog.Warn("Order resource can no longer be redeemed",
		"order_no", order.OrderNo,
		"resource_id", order.ResourceID.Hex(),
		"error", err,
	)
	return err
}

func newOrderNo(kind model.OrderKind) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", kind, id[:20])
}
