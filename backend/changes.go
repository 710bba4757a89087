package backend

import (
	"context"
	"sync"
)

// Collection names a group of rows readers can observe.
type Collection string

// CollectionQueue is the mutation queue collection.
const CollectionQueue Collection = "sync_queue"

// CollectionOf returns the collection that stores entities of a kind.
func CollectionOf(kind Kind) Collection {
	if c, ok := collections[kind]; ok {
		return Collection(c.table)
	}
	return Collection(kind)
}

// ChangeEvent tells a subscriber that a collection changed. It carries no
// rows; readers re-run their query.
type ChangeEvent struct {
	Collection Collection
}

// ChangeBus fans committed writes out to subscribers.
type ChangeBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

func NewChangeBus() *ChangeBus {
	return &ChangeBus{subs: make(map[int]*Subscription)}
}

// Subscription receives change events for the collections it was created
// with, or for every collection when created with none.
type Subscription struct {
	C <-chan ChangeEvent

	ch     chan ChangeEvent
	filter map[Collection]bool
	bus    *ChangeBus
	id     int
	once   sync.Once
}

// Subscribe registers a subscriber. Events are dropped for a subscriber whose
// buffer is full; since events carry no data, a pending event already implies
// the reader will refresh.
func (b *ChangeBus) Subscribe(collections ...Collection) *Subscription {
	ch := make(chan ChangeEvent, 16)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	if len(collections) > 0 {
		sub.filter = make(map[Collection]bool, len(collections))
		for _, c := range collections {
			sub.filter[c] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Publish notifies subscribers that the given collections changed.
func (b *ChangeBus) Publish(changed ...Collection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range changed {
		for _, sub := range b.subs {
			if sub.filter != nil && !sub.filter[c] {
				continue
			}
			select {
			case sub.ch <- ChangeEvent{Collection: c}:
			default:
			}
		}
	}
}

// QueryResult is one emission of a live query.
type QueryResult[T any] struct {
	Value T
	Err   error
}

// Observe runs query once immediately and again after every change to the
// given collections, sending each result on the returned channel. The channel
// is closed when ctx is done.
func Observe[T any](ctx context.Context, bus *ChangeBus, query func(context.Context) (T, error), collections ...Collection) <-chan QueryResult[T] {
	out := make(chan QueryResult[T])
	sub := bus.Subscribe(collections...)

	go func() {
		defer close(out)
		defer sub.Close()

		emit := func() bool {
			v, err := query(ctx)
			select {
			case out <- QueryResult[T]{Value: v, Err: err}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C:
				if !ok {
					return
				}
				// Fold a burst of events into one query.
				drain(sub.C)
				if !emit() {
					return
				}
			}
		}
	}()

	return out
}

func drain(ch <-chan ChangeEvent) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
