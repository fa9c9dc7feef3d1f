package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OrderKind separates order flows that expire on their own clocks
type OrderKind string

const (
	OrderPurchase OrderKind = "purchase"
	OrderCredit   OrderKind = "credit"
)

// Valid reports whether k is a known order kind
func (k OrderKind) Valid() bool {
	return k == OrderPurchase || k == OrderCredit
}

// OrderStatus is the payment state of an order
type OrderStatus string

const (
	OrderCreated        OrderStatus = "created"
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderExpired        OrderStatus = "expired"
)

// Order holds a resource reservation until payment completes or it expires
type Order struct {
	ID         primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	OrderNo    string              `json:"order_no" bson:"order_no"`
	Kind       OrderKind           `json:"kind" bson:"kind"`
	Email      string              `json:"email" bson:"email"`
	Status     OrderStatus         `json:"status" bson:"status"`
	ResourceID *primitive.ObjectID `json:"resource_id,omitempty" bson:"resource_id,omitempty"`
	PaidAt     *time.Time          `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	ExpiredAt  *time.Time          `json:"expired_at,omitempty" bson:"expired_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at" bson:"updated_at"`
}

// Holder builds the reservation holder for this order
func (o *Order) Holder() Holder {
	return Holder{Kind: HolderOrder, Ref: o.OrderNo, Identity: o.Email, Display: o.Email}
}
