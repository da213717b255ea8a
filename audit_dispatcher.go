package factorgate

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditEntry is one queued event plus its deferred metadata builder. The
// builder runs on the dispatcher goroutine, never on the caller's path, so
// callers pay nothing for metadata on events that end up dropped.
type auditEntry struct {
	event    AuditEvent
	metadata func() map[string]string
}

type auditDispatcher struct {
	cfg       AuditConfig
	sink      AuditSink
	ch        chan auditEntry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan auditEntry, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.deliver(entry)
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain flushes whatever is already queued at close time. New events are
// refused by Emit once closed is set, so this terminates.
func (d *auditDispatcher) drain() {
	for {
		select {
		case entry := <-d.ch:
			d.deliver(entry)
		default:
			return
		}
	}
}

func (d *auditDispatcher) deliver(entry auditEntry) {
	if entry.metadata != nil {
		entry.event.Metadata = entry.metadata()
	}
	d.sink.Emit(context.Background(), entry.event)
}

// Emit queues event for asynchronous delivery to the sink. The metadata
// builder, when non-nil, is invoked only if the event is actually delivered.
//
// With DropIfFull set the call never blocks and a full buffer increments the
// drop counter instead. Otherwise the call waits for buffer space, ctx
// cancellation, or dispatcher shutdown, whichever comes first.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent, metadata func() map[string]string) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	entry := auditEntry{event: event, metadata: metadata}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- entry:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops the dispatcher after flushing queued events. Safe to call more
// than once and on a nil receiver.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
