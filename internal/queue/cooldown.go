package queue

import (
	"context"

	"github.com/dandantas/boarding/internal/model"
)

// cooldown computes identity's rejoin cooldown from its last boarding. An
// override reset at or after that boarding cancels it.
func (s *Service) cooldown(ctx context.Context, identity string) (model.CooldownInfo, error) {
	var info model.CooldownInfo
	if s.opts.Cooldown <= 0 {
		return info, nil
	}

	last, err := s.store.LastBoardedAt(ctx, identity)
	if err != nil || last == nil {
		return info, err
	}
	info.LastBoardedAt = last

	override, err := s.store.GetOverride(ctx, identity)
	if err != nil {
		return info, err
	}
	if override != nil {
		resetAt := override.ResetAt
		info.ResetAt = &resetAt
		if !resetAt.Before(*last) {
			return info, nil
		}
	}

	until := last.Add(s.opts.Cooldown)
	info.Until = &until
	info.Active = s.clock.Now().Before(until)
	return info, nil
}
