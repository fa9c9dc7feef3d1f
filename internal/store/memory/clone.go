package memory

import (
	"time"

	"github.com/dandantas/boarding/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneID(id *primitive.ObjectID) *primitive.ObjectID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneEntry(e *model.QueueEntry) *model.QueueEntry {
	cp := *e
	if e.PositionSnapshot != nil {
		v := *e.PositionSnapshot
		cp.PositionSnapshot = &v
	}
	cp.ReservedResourceID = cloneID(e.ReservedResourceID)
	cp.RedeemedResourceID = cloneID(e.RedeemedResourceID)
	cp.ReservedAt = cloneTime(e.ReservedAt)
	cp.BoardedAt = cloneTime(e.BoardedAt)
	cp.LeftAt = cloneTime(e.LeftAt)
	return &cp
}

func cloneResource(r *model.Resource) *model.Resource {
	cp := *r
	if r.Holder != nil {
		h := *r.Holder
		cp.Holder = &h
	}
	cp.ReservedAt = cloneTime(r.ReservedAt)
	cp.RedeemedAt = cloneTime(r.RedeemedAt)
	return &cp
}

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.ResourceID = cloneID(o.ResourceID)
	cp.PaidAt = cloneTime(o.PaidAt)
	cp.ExpiredAt = cloneTime(o.ExpiredAt)
	return &cp
}

func cloneGroup(g *model.Group) *model.Group {
	cp := *g
	cp.LastSyncedAt = cloneTime(g.LastSyncedAt)
	return &cp
}
