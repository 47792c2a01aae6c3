package geolocation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Feed is a Source fed from outside, typically by samples the browser posts
// over the websocket. Slow watchers only ever see the latest fix.
type Feed struct {
	mu       sync.Mutex
	last     *Position
	lastAt   time.Time
	watchers map[int]*watcher
	nextID   int
	now      func() time.Time
}

type watcher struct {
	pos  chan Position
	errs chan error
	kick chan struct{}
}

func NewFeed() *Feed {
	return &Feed{
		watchers: make(map[int]*watcher),
		now:      time.Now,
	}
}

// Push publishes a sample to every watcher.
func (f *Feed) Push(p Position) error {
	if !p.Valid() {
		return fmt.Errorf("geolocation: invalid position %+v", p)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := p
	f.last = &cp
	f.lastAt = f.now()

	for _, w := range f.watchers {
		sendLatest(w.pos, p)
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// PushError reports a failure to every watcher.
func (f *Feed) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watchers {
		select {
		case w.errs <- err:
		default:
		}
	}
}

// Last returns the most recent sample, if any.
func (f *Feed) Last() (Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Position{}, false
	}
	return *f.last, true
}

func (f *Feed) CurrentPosition(ctx context.Context, opts WatchOptions) (Position, error) {
	f.mu.Lock()
	if f.last != nil && opts.MaximumAge > 0 && f.now().Sub(f.lastAt) <= opts.MaximumAge {
		p := *f.last
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	positions, errs := f.Watch(ctx, WatchOptions{HighAccuracy: opts.HighAccuracy})
	select {
	case p, ok := <-positions:
		if ok {
			return p, nil
		}
	case err, ok := <-errs:
		if ok {
			return Position{}, err
		}
	case <-ctx.Done():
	}
	if ctx.Err() == context.DeadlineExceeded {
		return Position{}, NewError(Timeout, "no fix within timeout")
	}
	return Position{}, ctx.Err()
}

func (f *Feed) Watch(ctx context.Context, opts WatchOptions) (<-chan Position, <-chan error) {
	w := &watcher{
		pos:  make(chan Position, 1),
		errs: make(chan error, 4),
		kick: make(chan struct{}, 1),
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = w
	if f.last != nil && opts.MaximumAge > 0 && f.now().Sub(f.lastAt) <= opts.MaximumAge {
		sendLatest(w.pos, *f.last)
	}
	f.mu.Unlock()

	go func() {
		var timeout <-chan time.Time
		var timer *time.Timer
		if opts.Timeout > 0 {
			timer = time.NewTimer(opts.Timeout)
			defer timer.Stop()
			timeout = timer.C
		}
		for {
			select {
			case <-ctx.Done():
				f.mu.Lock()
				delete(f.watchers, id)
				close(w.pos)
				close(w.errs)
				f.mu.Unlock()
				return
			case <-w.kick:
				if timer != nil {
					timer.Reset(opts.Timeout)
				}
			case <-timeout:
				f.mu.Lock()
				select {
				case w.errs <- NewError(Timeout, "no fix within timeout"):
				default:
				}
				f.mu.Unlock()
				timer.Reset(opts.Timeout)
			}
		}
	}()

	return w.pos, w.errs
}

// sendLatest replaces any unread sample with p.
func sendLatest(ch chan Position, p Position) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
