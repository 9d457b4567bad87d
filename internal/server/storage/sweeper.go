package storage

import (
	"context"
	"log/slog"
	"time"

	"securevault/internal/server/metrics"
)

// ReferenceChecker reports whether a stored handle is still owned by a file record.
type ReferenceChecker interface {
	HandleReferenced(ctx context.Context, handle string) (bool, error)
}

// Sweeper periodically removes stored objects that no file record references.
// Objects younger than the grace period are left alone so in-flight
// admissions are never swept.
type Sweeper struct {
	refs     ReferenceChecker
	store    Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	done     chan struct{}
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	Scanned int
	Removed int
	Failed  int
}

// NewSweeper creates a new orphan sweeper.
func NewSweeper(refs ReferenceChecker, store Store, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		refs:     refs,
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	slog.Info("orphan sweeper started", "interval", sw.interval, "grace", sw.grace)

	go func() {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sw.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("orphan sweeper stopping")
				close(sw.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (sw *Sweeper) Wait() {
	<-sw.done
}

// RunOnce performs a single sweep cycle.
func (sw *Sweeper) RunOnce(ctx context.Context) SweepResult {
	var res SweepResult

	objects, err := sw.store.List(ctx)
	if err != nil {
		slog.Error("failed to list stored objects", "error", err)
		return res
	}

	cutoff := sw.now().Add(-sw.grace)
	for _, obj := range objects {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++
		if obj.ModTime.After(cutoff) {
			continue
		}

		referenced, err := sw.refs.HandleReferenced(ctx, obj.Handle)
		if err != nil {
			slog.Error("failed to check handle reference", "handle", obj.Handle, "error", err)
			res.Failed++
			continue
		}
		if referenced {
			continue
		}

		if err := sw.store.Delete(ctx, obj.Handle); err != nil {
			slog.Error("failed to delete orphaned object", "handle", obj.Handle, "error", err)
			res.Failed++
			continue
		}
		res.Removed++
		metrics.SweptObjects.Inc()
		slog.Info("removed orphaned object", "handle", obj.Handle, "size", obj.Size)
	}

	slog.Info("sweep cycle complete",
		"scanned", res.Scanned,
		"removed", res.Removed,
		"failed", res.Failed,
	)
	return res
}
