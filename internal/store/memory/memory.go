// Package memory is an in-process implementation of store.Store. It backs
// the test suites and STORE_BACKEND=memory deployments. All state is guarded
// by a single mutex, so every conditional update is trivially atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store keeps every collection in maps keyed by id
type Store struct {
	mu sync.Mutex

	seq         int64
	entries     map[primitive.ObjectID]*model.QueueEntry
	resources   map[primitive.ObjectID]*model.Resource
	overrides   map[string]*model.CooldownOverride
	orders      map[string]*model.Order
	groups      map[primitive.ObjectID]*model.Group
	runs        []*model.JobRun
	invitations []*model.InvitationLog
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		entries:   make(map[primitive.ObjectID]*model.QueueEntry),
		resources: make(map[primitive.ObjectID]*model.Resource),
		overrides: make(map[string]*model.CooldownOverride),
		orders:    make(map[string]*model.Order),
		groups:    make(map[primitive.ObjectID]*model.Group),
	}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- entries ---

func (s *Store) InsertEntry(ctx context.Context, e *model.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Status == model.EntryWaiting {
		for _, existing := range s.entries {
			if existing.Identity == e.Identity && existing.Status == model.EntryWaiting {
				return store.ErrDuplicate
			}
		}
	}
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	s.seq++
	e.Seq = s.seq
	s.entries[e.ID] = cloneEntry(e)
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id primitive.ObjectID) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, model.NotFoundError("queue entry %s not found", id.Hex())
	}
	return cloneEntry(e), nil
}

func (s *Store) FindWaiting(ctx context.Context, identity string) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Identity == identity && e.Status == model.EntryWaiting {
			return cloneEntry(e), nil
		}
	}
	return nil, nil
}

func (s *Store) FindLatest(ctx context.Context, identity string) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.QueueEntry
	for _, e := range s.entries {
		if e.Identity != identity {
			continue
		}
		if latest == nil || e.Seq > latest.Seq {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneEntry(latest), nil
}

func (s *Store) OldestWaiting(ctx context.Context) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *model.QueueEntry
	for _, e := range s.entries {
		if e.Status != model.EntryWaiting {
			continue
		}
		if oldest == nil || e.Seq < oldest.Seq {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}
	return cloneEntry(oldest), nil
}

func (s *Store) LastBoardedAt(ctx context.Context, identity string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *time.Time
	for _, e := range s.entries {
		if identity != "" && e.Identity != identity {
			continue
		}
		if e.BoardedAt == nil {
			continue
		}
		if last == nil || e.BoardedAt.After(*last) {
			t := *e.BoardedAt
			last = &t
		}
	}
	return last, nil
}

func (s *Store) CountEntries(ctx context.Context, status model.EntryStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.entries {
		if status == "" || e.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountWaitingThrough(ctx context.Context, seq int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.entries {
		if e.Status == model.EntryWaiting && e.Seq <= seq {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListEntries(ctx context.Context, q model.EntryQuery) ([]model.QueueEntry, int64, error) {
	q.Normalize()
	search := strings.ToLower(strings.TrimSpace(q.Search))

	s.mu.Lock()
	matched := make([]model.QueueEntry, 0)
	for _, e := range s.entries {
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if search != "" && !entryMatches(e, search) {
			continue
		}
		matched = append(matched, *cloneEntry(e))
	}
	s.mu.Unlock()

	// Waiting entries in queue order, everything else most recent first.
	sort.Slice(matched, func(i, j int) bool {
		if q.Status == model.EntryWaiting {
			return matched[i].Seq < matched[j].Seq
		}
		return matched[i].Seq > matched[j].Seq
	})

	total := int64(len(matched))
	start := (q.Page - 1) * q.Limit
	if start >= len(matched) {
		return []model.QueueEntry{}, total, nil
	}
	end := start + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func entryMatches(e *model.QueueEntry, search string) bool {
	for _, field := range []string{e.Identity, e.Username, e.DisplayName, e.Email, e.ReservedValue} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, p model.Profile, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Status != model.EntryWaiting {
		return store.ErrLostRace
	}
	e.Email = p.Email
	e.Username = p.Username
	e.DisplayName = p.DisplayName
	e.TrustLevel = p.TrustLevel
	e.UpdatedAt = at
	return nil
}

func (s *Store) BindReservation(ctx context.Context, id primitive.ObjectID, res *model.Resource, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Status != model.EntryWaiting || e.HasReservation() {
		return store.ErrLostRace
	}
	rid := res.ID
	e.ReservedResourceID = &rid
	e.ReservedValue = res.Value
	e.ReservedAt = timePtr(at)
	e.ReservedBy = by
	e.UpdatedAt = at
	return nil
}

func (s *Store) ClearReservation(ctx context.Context, id, resourceID primitive.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.ReservedResourceID == nil || *e.ReservedResourceID != resourceID {
		return store.ErrLostRace
	}
	clearEntryReservation(e)
	e.UpdatedAt = at
	return nil
}

func (s *Store) TransitionEntry(ctx context.Context, id primitive.ObjectID, t store.EntryTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Status != t.From {
		return store.ErrLostRace
	}
	if t.To == model.EntryWaiting && t.From != model.EntryWaiting {
		for _, other := range s.entries {
			if other.ID != e.ID && other.Identity == e.Identity && other.Status == model.EntryWaiting {
				return store.ErrDuplicate
			}
		}
	}

	e.Status = t.To
	e.UpdatedAt = t.At
	switch t.To {
	case model.EntryBoarded:
		if e.BoardedAt == nil {
			e.BoardedAt = timePtr(t.At)
		}
		e.LeftAt = nil
	case model.EntryLeft:
		e.LeftAt = timePtr(t.At)
	}
	if t.To != model.EntryWaiting {
		clearEntryReservation(e)
	}
	if t.ClearTimestamps {
		e.BoardedAt = nil
		e.LeftAt = nil
	}
	if t.RedeemedResourceID != nil {
		rid := *t.RedeemedResourceID
		e.RedeemedResourceID = &rid
	}
	return nil
}

func (s *Store) LeaveAllWaiting(ctx context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.entries {
		if e.Status != model.EntryWaiting || e.HasReservation() {
			continue
		}
		e.Status = model.EntryLeft
		e.LeftAt = timePtr(at)
		e.UpdatedAt = at
		n++
	}
	return n, nil
}

func (s *Store) ListWaitingWithReservation(ctx context.Context) ([]model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.QueueEntry, 0)
	for _, e := range s.entries {
		if e.Status == model.EntryWaiting && e.HasReservation() {
			out = append(out, *cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func clearEntryReservation(e *model.QueueEntry) {
	e.ReservedResourceID = nil
	e.ReservedValue = ""
	e.ReservedAt = nil
	e.ReservedBy = ""
}

// --- resources ---

func (s *Store) InsertResource(ctx context.Context, r *model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.resources {
		if existing.Value == r.Value {
			return store.ErrDuplicate
		}
	}
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	if r.State == "" {
		r.State = model.ResourceAvailable
	}
	s.resources[r.ID] = cloneResource(r)
	return nil
}

func (s *Store) GetResource(ctx context.Context, id primitive.ObjectID) (*model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, model.NotFoundError("resource %s not found", id.Hex())
	}
	return cloneResource(r), nil
}

func (s *Store) FindResourceByValue(ctx context.Context, value string) (*model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.resources {
		if r.Value == value {
			return cloneResource(r), nil
		}
	}
	return nil, model.NotFoundError("resource %q not found", value)
}

func (s *Store) FindAvailable(ctx context.Context, sel model.ResourceSelector) (*model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *model.Resource
	for _, r := range s.resources {
		if r.State != model.ResourceAvailable || !selects(sel, r) {
			continue
		}
		if oldest == nil || olderResource(r, oldest) {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, nil
	}
	return cloneResource(oldest), nil
}

func (s *Store) CountResources(ctx context.Context, sel model.ResourceSelector, state model.ResourceState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.resources {
		if (state == "" || r.State == state) && selects(sel, r) {
			n++
		}
	}
	return n, nil
}

func selects(sel model.ResourceSelector, r *model.Resource) bool {
	if sel.Channel != "" && r.Channel != sel.Channel {
		return false
	}
	if sel.BoundGroup != "" && r.BoundGroup != sel.BoundGroup {
		return false
	}
	return true
}

func olderResource(a, b *model.Resource) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.Hex() < b.ID.Hex()
}

func (s *Store) MarkReserved(ctx context.Context, id primitive.ObjectID, holder model.Holder, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok || r.State != model.ResourceAvailable {
		return store.ErrLostRace
	}
	h := holder
	r.State = model.ResourceReserved
	r.Holder = &h
	r.ReservedAt = timePtr(at)
	r.UpdatedAt = at
	return nil
}

func (s *Store) MarkReleased(ctx context.Context, id primitive.ObjectID, holderRef string, force bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok || r.State != model.ResourceReserved {
		return store.ErrLostRace
	}
	if !force && (r.Holder == nil || r.Holder.Ref != holderRef) {
		return store.ErrLostRace
	}
	r.State = model.ResourceAvailable
	r.Holder = nil
	r.ReservedAt = nil
	r.UpdatedAt = at
	return nil
}

func (s *Store) MarkRedeemed(ctx context.Context, id primitive.ObjectID, holderRef, redeemedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok || !r.HeldBy(holderRef) {
		return store.ErrLostRace
	}
	r.State = model.ResourceRedeemed
	r.RedeemedAt = timePtr(at)
	r.RedeemedBy = redeemedBy
	r.UpdatedAt = at
	return nil
}

// --- cooldown overrides ---

func (s *Store) GetOverride(ctx context.Context, identity string) (*model.CooldownOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[identity]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *Store) UpsertOverride(ctx context.Context, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[identity] = &model.CooldownOverride{Identity: identity, ResetAt: at, UpdatedAt: at}
	return nil
}

// --- orders ---

func (s *Store) InsertOrder(ctx context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.OrderNo]; exists {
		return store.ErrDuplicate
	}
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	s.orders[o.OrderNo] = cloneOrder(o)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return nil, model.NotFoundError("order %s not found", orderNo)
	}
	return cloneOrder(o), nil
}

func (s *Store) FindExpirable(ctx context.Context, kind model.OrderKind, cutoff time.Time, limit int) ([]model.Order, error) {
	s.mu.Lock()
	out := make([]model.Order, 0)
	for _, o := range s.orders {
		if o.Kind == kind && unpaid(o) && !o.CreatedAt.After(cutoff) {
			out = append(out, *cloneOrder(o))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func unpaid(o *model.Order) bool {
	return o.PaidAt == nil && (o.Status == model.OrderCreated || o.Status == model.OrderPendingPayment)
}

func (s *Store) ExpireOrder(ctx context.Context, orderNo string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok || !unpaid(o) {
		return store.ErrLostRace
	}
	o.Status = model.OrderExpired
	o.ExpiredAt = timePtr(at)
	o.UpdatedAt = at
	return nil
}

func (s *Store) MarkOrderPaid(ctx context.Context, orderNo string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok || !unpaid(o) {
		return store.ErrLostRace
	}
	o.Status = model.OrderPaid
	o.PaidAt = timePtr(at)
	o.UpdatedAt = at
	return nil
}

// --- groups ---

func (s *Store) InsertGroup(ctx context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.Identity == g.Identity {
			return store.ErrDuplicate
		}
	}
	if g.ID.IsZero() {
		g.ID = primitive.NewObjectID()
	}
	s.groups[g.ID] = cloneGroup(g)
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id primitive.ObjectID) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, model.NotFoundError("group %s not found", id.Hex())
	}
	return cloneGroup(g), nil
}

func (s *Store) FindGroupByIdentity(ctx context.Context, identity string) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		if strings.EqualFold(g.Identity, identity) {
			return cloneGroup(g), nil
		}
	}
	return nil, nil
}

func (s *Store) ListEligibleGroups(ctx context.Context, createdAfter *time.Time) ([]model.Group, error) {
	s.mu.Lock()
	out := make([]model.Group, 0)
	for _, g := range s.groups {
		if !g.Open || g.Banned {
			continue
		}
		if createdAfter != nil && g.CreatedAt.Before(*createdAfter) {
			continue
		}
		out = append(out, *cloneGroup(g))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateGroupCounts(ctx context.Context, id primitive.ObjectID, members, invites *int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return store.ErrLostRace
	}
	if members != nil {
		g.MemberCount = *members
	}
	if invites != nil {
		g.InviteCount = *invites
	}
	g.LastSyncedAt = timePtr(at)
	g.UpdatedAt = at
	return nil
}

// --- runs and invitations ---

func (s *Store) RecordRun(ctx context.Context, run *model.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID.IsZero() {
		run.ID = primitive.NewObjectID()
	}
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *Store) ListRuns(ctx context.Context, job string, page, limit int) ([]model.JobRun, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	s.mu.Lock()
	matched := make([]model.JobRun, 0)
	for i := len(s.runs) - 1; i >= 0; i-- {
		if job == "" || s.runs[i].Job == job {
			matched = append(matched, *s.runs[i])
		}
	}
	s.mu.Unlock()

	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return []model.JobRun{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *Store) RecordInvitation(ctx context.Context, log *model.InvitationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	cp := *log
	cp.Attempts = append([]model.InvitationAttempt(nil), log.Attempts...)
	s.invitations = append(s.invitations, &cp)
	return nil
}

// Invitations returns a copy of the recorded invitation logs
func (s *Store) Invitations() []model.InvitationLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.InvitationLog, 0, len(s.invitations))
	for _, l := range s.invitations {
		out = append(out, *l)
	}
	return out
}
