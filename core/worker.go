package core

import (
	"context"
	"log"
	"sync/atomic"
)

// DeviceWorker owns the blocking bus I/O on its own goroutine. The
// scheduler submits one Update per tick without ever waiting on the
// hardware; if the device falls behind, updates are dropped at the queue
// (a transient condition, like a bus timeout) rather than stalling the
// tick loop. Consecutive device failures past the threshold surface as a
// fatal condition on Fatal().
type DeviceWorker struct {
	outputs   Outputs
	updates   chan Update
	threshold int

	fatal   chan error
	dropped atomic.Uint64
}

// NewDeviceWorker returns a worker with the given queue depth and
// consecutive-failure threshold. Run must be started before updates flow.
func NewDeviceWorker(outputs Outputs, queueDepth, threshold int) *DeviceWorker {
	if queueDepth < 1 {
		queueDepth = 1
	}
	if threshold < 1 {
		threshold = 1
	}
	return &DeviceWorker{
		outputs:   outputs,
		updates:   make(chan Update, queueDepth),
		threshold: threshold,
		fatal:     make(chan error, 1),
	}
}

// Push submits an update without blocking. If the queue is full the update
// is dropped and ErrQueueFull returned; the scheduler counts that like any
// other transient failure.
func (w *DeviceWorker) Push(u Update) error {
	select {
	case w.updates <- u:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns the number of updates discarded because the queue was
// full.
func (w *DeviceWorker) Dropped() uint64 {
	return w.dropped.Load()
}

// Fatal reports a sustained device failure. At most one error is ever
// sent; the worker stops afterwards.
func (w *DeviceWorker) Fatal() <-chan error {
	return w.fatal
}

// Run applies queued updates to the hardware until ctx is cancelled or the
// device is declared unavailable.
func (w *DeviceWorker) Run(ctx context.Context) {
	direct := DirectSink{Outputs: w.outputs}
	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-w.updates:
			err := direct.Push(u)
			if err == nil {
				consecutive = 0
				continue
			}
			if !IsTransient(err) {
				log.Printf("device worker: fatal bus error: %v", err)
				w.fatal <- err
				return
			}
			consecutive++
			log.Printf("device worker: transient bus error (%d consecutive): %v", consecutive, err)
			if consecutive >= w.threshold {
				w.fatal <- ErrDeviceUnavailable
				return
			}
		}
	}
}
