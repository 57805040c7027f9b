package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HandleBanPurge returns the cron handler deleting expired ban rows.
func HandleBanPurge(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tag, err := pool.Exec(ctx, `
			DELETE FROM bans WHERE expires <= extract(epoch from now())`)
		if err != nil {
			return err
		}
		if n := tag.RowsAffected(); n > 0 {
			logger.Info("purged expired bans", slog.Int64("rows", n))
		}
		return nil
	}
}
