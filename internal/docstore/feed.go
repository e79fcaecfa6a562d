package docstore

import (
	"context"
	"sync"
)

type loader func(ctx context.Context) ([]Document, error)

// feed is the channel-backed Subscription shared by every backend.
// A single goroutine owns the events channel: it emits an initial listing, then
// reloads the collection each time the backend signals a change. Listings are full
// replicas, so an unread snapshot is replaced by a newer one instead of queueing.
type feed struct {
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan Snapshot
	trigger chan struct{}
	errs    chan error
	fatal   chan error
	done    chan struct{}

	once     sync.Once
	onClose  func() error
	closeErr error
}

func startFeed(parent context.Context, load loader) *feed {
	ctx, cancel := context.WithCancel(parent)
	f := &feed{
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan Snapshot, 1),
		trigger: make(chan struct{}, 1),
		errs:    make(chan error, 1),
		fatal:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	go f.run(load)
	return f
}

// Context is canceled when the feed is closed or its parent context ends.
// Backends bind their change listeners to it.
func (f *feed) Context() context.Context { return f.ctx }

func (f *feed) Events() <-chan Snapshot { return f.events }

// Notify asks for a fresh listing. Bursts coalesce into one reload.
func (f *feed) Notify() {
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

// Fail reports a change-listener error to the subscriber.
func (f *feed) Fail(err error) {
	if err == nil {
		return
	}
	select {
	case f.errs <- err:
	default:
	}
}

// Abort delivers err as the last snapshot and ends the feed. Backends call it when
// their change listener is gone for good; the subscriber still has to Close.
func (f *feed) Abort(err error) {
	select {
	case f.fatal <- err:
	default:
	}
}

// Close stops the feed, waits for the producer to exit and runs the backend cleanup once.
func (f *feed) Close() error {
	f.once.Do(func() {
		f.cancel()
		<-f.done
		if f.onClose != nil {
			f.closeErr = f.onClose()
		}
	})
	return f.closeErr
}

func (f *feed) run(load loader) {
	defer close(f.done)
	defer close(f.events)

	f.reload(load)
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.trigger:
			f.reload(load)
		case err := <-f.errs:
			f.publish(Snapshot{Err: err})
		case err := <-f.fatal:
			if err != nil {
				f.publish(Snapshot{Err: err})
			}
			return
		}
	}
}

func (f *feed) reload(load loader) {
	docs, err := load(f.ctx)
	if err != nil {
		if f.ctx.Err() != nil {
			return
		}
		f.publish(Snapshot{Err: err})
		return
	}
	f.publish(Snapshot{Docs: docs})
}

func (f *feed) publish(s Snapshot) {
	for {
		select {
		case <-f.ctx.Done():
			return
		case f.events <- s:
			return
		default:
		}
		// drop the stale unread snapshot
		select {
		case <-f.events:
		default:
		}
	}
}
