package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/parlor-forum/parlor/internal/perms"
)

// HandlePermWarmup returns the handler recomputing permission cache
// entries for the group sets named in the payload. Both the plain and
// the robot-flagged entry are warmed.
func HandlePermWarmup(engine *perms.Engine, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PermWarmupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		for _, set := range payload.GroupSets {
			if len(set) == 0 {
				continue
			}
			if err := engine.WarmGroupSet(ctx, set, false); err != nil {
				logger.Warn("perm warmup failed", slog.Any("groups", set), slog.Any("error", err))
				return err
			}
			if err := engine.WarmGroupSet(ctx, set, true); err != nil {
				return err
			}
		}
		return nil
	}
}
