package memory

import (
	"context"
	"sync"
	"time"
)

// RunLog records job fire times for the lifetime of the process only, so a restart never
// detects a missed trigger. Use the postgres run log when catch-up matters.
type RunLog struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func NewRunLog() *RunLog {
	return &RunLog{runs: make(map[string]time.Time)}
}

func (l *RunLog) LastRun(ctx context.Context, name string) (time.Time, bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.runs[name]
	return at, ok, nil
}

func (l *RunLog) RecordRun(ctx context.Context, name string, at time.Time) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.runs[name]; ok && prev.After(at) {
		return nil
	}
	l.runs[name] = at
	return nil
}
