package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermWarmup recomputes permission cache entries for the group
	// sets touched by an administrative grant edit.
	TaskPermWarmup = "perms:warmup"
	// TaskBanPurge removes expired ban rows.
	TaskBanPurge = "bans:purge"
)

// PermWarmupPayload names the group sets to warm. Each inner slice is
// one evaluated group combination.
type PermWarmupPayload struct {
	GroupSets [][]int64 `json:"group_sets"`
}

// NewPermWarmupTask constructs an Asynq task.
func NewPermWarmupTask(payload PermWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermWarmup, data), nil
}

// NewBanPurgeTask constructs the cron purge task.
func NewBanPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskBanPurge, nil)
}
