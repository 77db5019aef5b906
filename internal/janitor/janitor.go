// Package janitor prunes expired auth rows on a cron schedule.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"planboard/api/internal/logger"
)

type pruner interface {
	DeleteExpiredAuthRows(ctx context.Context) (int64, error)
}

type Janitor struct {
	cron  *cron.Cron
	store pruner
	spec  string
}

// New builds a janitor with a cron spec such as "@hourly" or
// "*/30 * * * *".
func New(store pruner, spec string) *Janitor {
	return &Janitor{
		cron:  cron.New(),
		store: store,
		spec:  spec,
	}
}

// Start registers the cleanup job and launches the scheduler.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.run); err != nil {
		return err
	}
	j.cron.Start()
	logger.Get().WithField("spec", j.spec).Info("janitor: started")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	logger.Get().Info("janitor: stopped")
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := j.store.DeleteExpiredAuthRows(ctx)
	if err != nil {
		logger.Get().WithError(err).Error("janitor: cleanup failed")
		return
	}
	if pruned > 0 {
		logger.Get().WithField("rows", pruned).Info("janitor: pruned expired auth rows")
	}
}
