package job

import (
	"context"
	"time"
)

// RunLog remembers when each scheduled job last fired so missed triggers can be
// detected after a restart.
type RunLog interface {
	// LastRun returns the last recorded fire time; ok is false when the job never ran.
	LastRun(ctx context.Context, name string) (at time.Time, ok bool, err error)
	RecordRun(ctx context.Context, name string, at time.Time) error
}
