package settings

import "context"

type snapshotContextKey struct{}

// ContextWithSnapshot stores the per-request settings snapshot.
func ContextWithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, snap)
}

// SnapshotFromContext returns the per-request snapshot, or defaults
// when middleware has not run.
func SnapshotFromContext(ctx context.Context) Snapshot {
	if snap, ok := ctx.Value(snapshotContextKey{}).(Snapshot); ok {
		return snap
	}
	return Defaults()
}
