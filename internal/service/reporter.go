package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"factory_device/internal/logger"
	"factory_device/internal/models"
	"factory_device/internal/property"
	"factory_device/internal/transport"
)

const (
	defaultRetryInterval = 5 * time.Second
	defaultPushTimeout   = 10 * time.Second
)

// ReportedPusher patches the reported-properties document.
type ReportedPusher interface {
	PushReported(ctx context.Context, doc []byte) error
}

// Reporter delivers store snapshots to the control plane from a single
// goroutine. Only the latest pending snapshot is kept; a failed push is
// retried unless a newer snapshot replaced it.
type Reporter struct {
	pusher        ReportedPusher
	events        EventRecorder
	log           *logger.Logger
	retryInterval time.Duration
	pushTimeout   time.Duration

	mu         sync.Mutex
	pending    *property.Snapshot
	lastPushed uint64
	pushedAny  bool

	notify chan struct{}
}

func NewReporter(pusher ReportedPusher, events EventRecorder, log *logger.Logger, retryInterval, pushTimeout time.Duration) *Reporter {
	if events == nil {
		events = nopRecorder{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	return &Reporter{
		pusher:        pusher,
		events:        events,
		log:           log,
		retryInterval: retryInterval,
		pushTimeout:   pushTimeout,
		notify:        make(chan struct{}, 1),
	}
}

// Enqueue schedules snap for delivery. It never blocks, so it is safe to use
// as the store's push callback.
func (r *Reporter) Enqueue(snap property.Snapshot) {
	r.mu.Lock()
	if r.pending == nil || snap.Revision >= r.pending.Revision {
		r.pending = &snap
	}
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run pushes pending snapshots until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		}
		if !r.drain(ctx) {
			return
		}
	}
}

// drain pushes until nothing is pending. It returns false when ctx ended.
func (r *Reporter) drain(ctx context.Context) bool {
	for {
		snap, ok := r.take()
		if !ok {
			return true
		}
		err := r.push(ctx, snap)
		if err == nil {
			continue
		}

		r.log.Warnw("reported_push_failed", "revision", snap.Revision, "err", err)
		r.events.Record(ctx, models.EventPushFailed, "Reported properties push failed", map[string]any{
			"revision": snap.Revision,
			"error":    err.Error(),
		})
		r.requeue(snap)

		t := time.NewTimer(r.retryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		case <-r.notify:
			t.Stop()
		}
	}
}

// take pops the pending snapshot. Snapshots older than the last delivered
// revision are dropped; an equal revision is an explicit re-report.
func (r *Reporter) take() (property.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending
	r.pending = nil
	if p == nil {
		return property.Snapshot{}, false
	}
	if r.pushedAny && p.Revision < r.lastPushed {
		r.log.Debugw("reported_snapshot_stale", "revision", p.Revision, "last_pushed", r.lastPushed)
		return property.Snapshot{}, false
	}
	return *p, true
}

func (r *Reporter) requeue(snap property.Snapshot) {
	r.mu.Lock()
	if r.pending == nil {
		r.pending = &snap
	}
	r.mu.Unlock()
}

func (r *Reporter) push(ctx context.Context, snap property.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: marshal reported: %w", transport.ErrPushFailed, err)
	}

	pctx, cancel := context.WithTimeout(ctx, r.pushTimeout)
	defer cancel()
	if err := r.pusher.PushReported(pctx, doc); err != nil {
		if errors.Is(err, transport.ErrPushFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", transport.ErrPushFailed, err)
	}

	r.mu.Lock()
	r.lastPushed = snap.Revision
	r.pushedAny = true
	r.mu.Unlock()
	r.log.Debugw("reported_pushed", "revision", snap.Revision, "version", snap.Version, "changed", snap.Changed)
	return nil
}
