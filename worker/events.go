package worker

import (
	"sync"
	"time"

	"github.com/hupe1980/framecache/task"
)

// Event is a task lifecycle notification.
type Event struct {
	TaskID   task.ID
	Type     task.Type
	Status   task.Status
	Priority int
	WorkerID int
	// Progress is set on running events (0..100).
	Progress int
	// Duration is the run time of terminal events that reached a worker.
	Duration time.Duration
	Err      error
}

// eventBus delivers events to subscribers in order on its own goroutine, so
// publishing never blocks the coordinator and subscribers may call back
// into the pool.
type eventBus struct {
	mu      sync.Mutex
	pending []Event
	subs    map[int]func(Event)
	nextID  int
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func newEventBus() *eventBus {
	b := &eventBus{
		subs:    make(map[int]func(Event)),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *eventBus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	if len(b.subs) == 0 {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, e)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *eventBus) loop() {
	defer close(b.stopped)
	for {
		select {
		case <-b.wake:
			b.flush()
		case <-b.stop:
			b.flush()
			return
		}
	}
}

func (b *eventBus) flush() {
	for {
		b.mu.Lock()
		batch := b.pending
		b.pending = nil
		subs := make([]func(Event), 0, len(b.subs))
		for _, fn := range b.subs {
			subs = append(subs, fn)
		}
		b.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			for _, fn := range subs {
				fn(e)
			}
		}
	}
}

func (b *eventBus) close() {
	close(b.stop)
	<-b.stopped
}
