package freshness

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arunvm123/voyagecache/model"
)

// Observer receives every distinct ManagerState, in order.
type Observer func(model.ManagerState)

type subscription struct {
	id       uuid.UUID
	observer Observer
	active   atomic.Bool
}

// Subscribe registers observer and delivers the current state to it. The
// returned func unsubscribes; calling it more than once is harmless.
func (m *Manager) Subscribe(observer Observer) (unsubscribe func()) {
	sub := &subscription{id: uuid.New(), observer: observer}
	sub.active.Store(true)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, sub)
	m.dispatcher.enqueue(m.state.Clone(), []*subscription{sub})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			m.removeSubscriber(sub.id)
		})
	}
}

func (m *Manager) removeSubscriber(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub.id == id {
			m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
			return
		}
	}
}

type delivery struct {
	state   model.ManagerState
	targets []*subscription
}

// dispatcher delivers queued states on its own goroutine.
type dispatcher struct {
	logger *slog.Logger

	mu    sync.Mutex
	queue []delivery

	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) enqueue(state model.ManagerState, targets []*subscription) {
	if len(targets) == 0 {
		return
	}

	select {
	case <-d.done:
		return
	default:
	}

	d.mu.Lock()
	d.queue = append(d.queue, delivery{state: state, targets: targets})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.stopped)

	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			next := d.queue[0]
			d.queue[0] = delivery{}
			d.queue = d.queue[1:]
			d.mu.Unlock()

			for _, sub := range next.targets {
				select {
				case <-d.done:
					return
				default:
				}
				if sub.active.Load() {
					d.deliver(sub, next.state.Clone())
				}
			}
		}
	}
}

func (d *dispatcher) deliver(sub *subscription, state model.ManagerState) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("voyage state observer panicked", "subscription", sub.id, "panic", r)
		}
	}()
	sub.observer(state)
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
