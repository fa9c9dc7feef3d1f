package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/groups"
	"github.com/dandantas/boarding/internal/invite"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
	"github.com/dandantas/boarding/internal/worker"
	"golang.org/x/time/rate"
)

// OvercapacityOptions tune the overcapacity sweeper
type OvercapacityOptions struct {
	MaxMembers        int // 0 evicts every standard member
	CreatedWithinDays int // 0 scans every group
	Concurrency       int
	RemovalsPerSecond float64 // 0 disables pacing
}

// Overcapacity removes the most recently joined standard members from groups
// above the member cap.
type Overcapacity struct {
	store     store.GroupStore
	invites   invite.Service
	directory *groups.Directory
	locks     *keymutex.Manager
	clock     clock.Clock
	opts      OvercapacityOptions
	limiter   *rate.Limiter
}

// NewOvercapacity creates the sweeper
func NewOvercapacity(s store.GroupStore, invites invite.Service, directory *groups.Directory, locks *keymutex.Manager, c clock.Clock, opts OvercapacityOptions) *Overcapacity {
	if c == nil {
		c = clock.Real{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxMembers < 0 {
		opts.MaxMembers = 0
	}

	limit := rate.Inf
	if opts.RemovalsPerSecond > 0 {
		limit = rate.Limit(opts.RemovalsPerSecond)
	}

	return &Overcapacity{
		store:     s,
		invites:   invites,
		directory: directory,
		locks:     locks,
		clock:     c,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (o *Overcapacity) Name() string { return model.JobOvercapacity }

func (o *Overcapacity) Run(ctx context.Context, run *model.JobRun) {
	var createdAfter *time.Time
	if o.opts.CreatedWithinDays > 0 {
		t := o.clock.Now().Add(-time.Duration(o.opts.CreatedWithinDays) * 24 * time.Hour)
		createdAfter = &t
	}

	eligible, err := o.store.ListEligibleGroups(ctx, createdAfter)
	if err != nil {
		run.Fail(fmt.Errorf("failed to list groups: %w", err), o.clock.Now())
		return
	}

	results := worker.Map(ctx, "overcapacity", o.opts.Concurrency, eligible, func(ctx context.Context, g model.Group) model.GroupSweepResult {
		return o.sweepGroup(ctx, g)
	})
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Identity < results[j].Identity
	})

	run.Count("scanned", len(results))
	for _, r := range results {
		run.Count("evicted", r.Removed)
		if r.Error != "" {
			run.Count("failures", 1)
		}
		if r.MembersBefore > o.opts.MaxMembers {
			run.Count("over_capacity", 1)
		}
		if r.Removed > 0 || r.Error != "" {
			run.Groups = append(run.Groups, r)
		}
	}
}

func (o *Overcapacity) sweepGroup(ctx context.Context, g model.Group) model.GroupSweepResult {
	result := model.GroupSweepResult{GroupID: g.ID.Hex(), Identity: g.Identity}

	err := o.locks.WithLock(ctx, keymutex.GroupKey(g.ID.Hex()), func() error {
		return o.evict(ctx, &g, &result)
	})
	if err != nil {
		result.Error = err.Error()
		slog.Error("Overcapacity sweep failed for group",
			"group_id", result.GroupID,
			"identity", g.Identity,
			"removed", result.Removed,
			"error", err,
		)
	}
	return result
}

// evict runs under the group key
func (o *Overcapacity) evict(ctx context.Context, g *model.Group, result *model.GroupSweepResult) error {
	members, total, err := o.invites.ListMembers(ctx, g.Credentials)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}
	result.MembersBefore = total
	result.MembersAfter = total

	if err := o.store.UpdateGroupCounts(ctx, g.ID, &total, nil, o.clock.Now()); err != nil {
		return fmt.Errorf("failed to persist member count: %w", err)
	}

	excess := total - o.opts.MaxMembers
	if excess <= 0 {
		return nil
	}

	victims := evictionCandidates(members, excess)
	var removeErr error
	for _, m := range victims {
		if err := o.limiter.Wait(ctx); err != nil {
			removeErr = err
			break
		}
		if err := o.invites.RemoveMember(ctx, g.Credentials, m.ID); err != nil {
			removeErr = fmt.Errorf("failed to remove member %s: %w", m.ID, err)
			break
		}
		result.Removed++
		slog.Info("Removed member from overcapacity group",
			"group_id", result.GroupID,
			"member_id", m.ID,
			"joined_at", m.JoinedAt,
		)
	}
	result.MembersAfter = total - result.Removed

	if result.Removed > 0 {
		if synced, err := o.directory.SyncCounts(ctx, g); err != nil {
			slog.Warn("Group resync after eviction failed", "group_id", result.GroupID, "error", err)
		} else {
			result.MembersAfter = synced.MemberCount
		}
	}
	return removeErr
}

// evictionCandidates returns up to n standard members, most recently joined first
func evictionCandidates(members []model.Member, n int) []model.Member {
	standard := make([]model.Member, 0, len(members))
	for _, m := range members {
		if m.Role == model.MemberRoleStandard {
			standard = append(standard, m)
		}
	}
	sort.SliceStable(standard, func(i, j int) bool {
		if !standard[i].JoinedAt.Equal(standard[j].JoinedAt) {
			return standard[i].JoinedAt.After(standard[j].JoinedAt)
		}
		return standard[i].ID < standard[j].ID
	})
	if len(standard) > n {
		standard = standard[:n]
	}
	return standard
}
