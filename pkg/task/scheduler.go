package task

import (
	"errors"
	"sync"
	"time"

	"github.com/scragly/dreaf/pkg/log"
)

// Cancel stops a scheduled job. Safe to call more than once.
type Cancel func()

// ScheduleEvery dispatches t every interval until cancelled or the router closes.
// A tick whose previous run is still deduplicated is skipped.
func (tr *TaskRouter) ScheduleEvery(interval time.Duration, t Task) Cancel {
	if interval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	var once sync.Once

	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tr.ctx.Done():
				return
			case <-ticker.C:
				tr.dispatchScheduled(t)
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

func (tr *TaskRouter) dispatchScheduled(t Task) {
	err := tr.Dispatch(tr.ctx, t)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateTask):
		log.ApplicationLogger().Debug("Scheduled task still pending, skipping tick", "type", t.Type)
	case errors.Is(err, ErrRouterClosed), tr.ctx.Err() != nil:
	default:
		log.ApplicationLogger().Warn("Scheduled task dispatch failed", "type", t.Type, "err", err)
	}
}
