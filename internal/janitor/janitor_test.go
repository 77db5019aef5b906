package janitor

import (
	"context"
	"sync/atomic"
	"testing"
)

type fakePruner struct {
	calls atomic.Int64
	rows  int64
	err   error
}

func (f *fakePruner) DeleteExpiredAuthRows(context.Context) (int64, error) {
	f.calls.Add(1)
	return f.rows, f.err
}

func TestStartRejectsBadSpec(t *testing.T) {
	j := New(&fakePruner{}, "not a cron spec")
	if err := j.Start(); err == nil {
		t.Fatalf("expected error for invalid cron spec")
		j.Stop()
	}
}

func TestRunInvokesPruner(t *testing.T) {
	pruner := &fakePruner{rows: 3}
	j := New(pruner, "@hourly")

	j.run()

	if pruner.calls.Load() != 1 {
		t.Fatalf("expected one prune call, got %d", pruner.calls.Load())
	}
}

func TestStartAndStop(t *testing.T) {
	j := New(&fakePruner{}, "@hourly")
	if err := j.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	j.Stop()
}
