package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/store/memory"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	clk := clock.NewManual(t0)
	res := reservation.New(st, clk)
	if _, err := res.Import(context.Background(), []string{"SHOP-1"}, "shop", ""); err != nil {
		t.Fatalf("import: %v", err)
	}
	return NewService(st, res, keymutex.New(), clk), st
}

func TestCreateAndPay(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, model.OrderPurchase, "Buyer@Example.com", model.ResourceSelector{Channel: "shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Email != "buyer@example.com" || order.ResourceID == nil || order.Status != model.OrderCreated {
		t.Fatalf("unexpected order %+v", order)
	}

	res, _ := st.GetResource(ctx, *order.ResourceID)
	if !res.HeldBy(order.OrderNo) || res.Holder.Kind != model.HolderOrder {
		t.Fatalf("expected resource held by the order, got %+v", res.Holder)
	}

	paid, err := svc.MarkPaid(ctx, order.OrderNo)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.Status != model.OrderPaid || paid.PaidAt == nil {
		t.Fatalf("unexpected paid order %+v", paid)
	}
	res, _ = st.GetResource(ctx, *order.ResourceID)
	if res.State != model.ResourceRedeemed || res.RedeemedBy != "buyer@example.com" {
		t.Fatalf("expected redeemed resource, got %+v", res)
	}

	if _, err := svc.MarkPaid(ctx, order.OrderNo); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("paying twice must conflict, got %v", err)
	}
}

func TestCreateWithEmptyPool(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, model.OrderCredit, "a@example.com", model.ResourceSelector{Channel: "shop"}); err != nil {
		t.Fatalf("first order: %v", err)
	}
	_, err := svc.Create(ctx, model.OrderCredit, "b@example.com", model.ResourceSelector{Channel: "shop"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found once the pool is empty, got %v", err)
	}
}

func TestCreateValidates(t *testing.T) {
	svc, _ := setup(t)
	if _, err := svc.Create(context.Background(), "gift", "a@example.com", model.ResourceSelector{}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for kind, got %v", err)
	}
	if _, err := svc.Create(context.Background(), model.OrderPurchase, "nope", model.ResourceSelector{}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for email, got %v", err)
	}
}

func TestMarkPaidLeavesOrderUnpaidWhenRedeemFails(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, model.OrderPurchase, "buyer@example.com", model.ResourceSelector{Channel: "shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if released, err := svc.reservations.Release(ctx, *order.ResourceID, "", true); err != nil || !released {
		t.Fatalf("force release: %v (released=%v)", err, released)
	}

	if _, err := svc.MarkPaid(ctx, order.OrderNo); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict when the resource is gone, got %v", err)
	}

	got, _ := st.GetOrder(ctx, order.OrderNo)
	if got.Status != model.OrderCreated || got.PaidAt != nil {
		t.Fatalf("order must stay unpaid, got %+v", got)
	}
	res, _ := st.GetResource(ctx, *order.ResourceID)
	if res.State != model.ResourceAvailable {
		t.Fatalf("resource must stay available, got %s", res.State)
	}
}

func TestMarkPaidResumesAfterRedemption(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, model.OrderCredit, "buyer@example.com", model.ResourceSelector{Channel: "shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.reservations.Redeem(ctx, *order.ResourceID, order.OrderNo, order.Email); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	paid, err := svc.MarkPaid(ctx, order.OrderNo)
	if err != nil {
		t.Fatalf("pay after redemption: %v", err)
	}
	if paid.Status != model.OrderPaid {
		t.Fatalf("expected paid order, got %s", paid.Status)
	}
}
