package pubsub

import (
	"sync"

	"github.com/asaskevich/EventBus"
	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/broker-bridge/src/models"
)

type envelope struct {
	topic EventName
	event interface{}
}

type subscription struct {
	id uint64
	fn func(interface{})
}

// Bus delivers adapter events in publish order on a single goroutine. Publishing
// never blocks on handlers, so handlers may call back into the adapter.
type Bus struct {
	name     string
	bus      EventBus.Bus
	queue    *FIFOQueue[envelope]
	pending  sync.WaitGroup
	mu       sync.Mutex
	draining bool
	nextID   uint64
	subs     map[EventName][]subscription
}

func New(name string) *Bus {
	b := &Bus{
		name:  name,
		bus:   EventBus.New(),
		queue: NewFIFOQueue[envelope](name),
		subs:  make(map[EventName][]subscription),
	}

	for _, topic := range topics {
		topic := topic
		if err := b.bus.Subscribe(string(topic), func(event interface{}) {
			b.dispatch(topic, event)
		}); err != nil {
			log.Errorf("pubsub.New: %s: failed to register topic %s: %v", name, topic, err)
		}
	}

	return b
}

func (b *Bus) dispatch(topic EventName, event interface{}) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, s := range subs {
		if !b.isSubscribed(topic, s.id) {
			continue
		}

		s.fn(event)
	}
}

func (b *Bus) isSubscribed(topic EventName, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[topic] {
		if s.id == id {
			return true
		}
	}

	return false
}

func (b *Bus) publish(topic EventName, event interface{}) {
	b.pending.Add(1)
	b.queue.Enqueue(envelope{topic: topic, event: event})

	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	go b.drain()
}

func (b *Bus) drain() {
	for {
		env, ok := b.queue.Dequeue()
		if !ok {
			b.mu.Lock()
			if b.queue.Len() == 0 {
				b.draining = false
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			continue
		}

		b.bus.Publish(string(env.topic), env.event)
		b.pending.Done()
	}
}

// WaitIdle blocks until every published event has been delivered.
func (b *Bus) WaitIdle() {
	b.pending.Wait()
}

func (b *Bus) subscribe(topic EventName, fn func(interface{})) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	log.Debugf("%s: subscribed to topic %s", b.name, topic)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subs[topic]
			for i, s := range subs {
				if s.id == id {
					b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func on[T any](b *Bus, topic EventName, fn func(T)) func() {
	return b.subscribe(topic, func(event interface{}) {
		if ev, ok := event.(T); ok {
			fn(ev)
		}
	})
}

func (b *Bus) OnOrderRejected(fn func(OrderRejected)) func() {
	return on(b, OrderRejectedEvent, fn)
}

func (b *Bus) OnOrdersChanged(fn func(OrdersChanged)) func() {
	return on(b, OrdersChangedEvent, fn)
}

func (b *Bus) OnOrdersUpdated(fn func(OrdersUpdated)) func() {
	return on(b, OrdersUpdatedEvent, fn)
}

func (b *Bus) OnPositionsChanged(fn func(PositionsChanged)) func() {
	return on(b, PositionsChangedEvent, fn)
}

func (b *Bus) OnAccountStateChanged(fn func(AccountStateChanged)) func() {
	return on(b, AccountStateChangedEvent, fn)
}

func (b *Bus) OnError(fn func(Error)) func() {
	return on(b, ErrorEvent, fn)
}

func (b *Bus) PublishOrderRejected(order *models.Order, reason string) {
	b.publish(OrderRejectedEvent, OrderRejected{Order: order, Reason: reason})
}

func (b *Bus) PublishOrdersChanged(orders ...*models.Order) {
	if len(orders) == 0 {
		return
	}

	b.publish(OrdersChangedEvent, OrdersChanged{Orders: orders})
}

func (b *Bus) PublishOrdersUpdated(orders ...*models.Order) {
	if len(orders) == 0 {
		return
	}

	b.publish(OrdersUpdatedEvent, OrdersUpdated{Orders: orders})
}

func (b *Bus) PublishPositionsChanged(positions ...*models.Position) {
	if len(positions) == 0 {
		return
	}

	b.publish(PositionsChangedEvent, PositionsChanged{Positions: positions})
}

func (b *Bus) PublishAccountStateChanged(account models.AccountInfo) {
	b.publish(AccountStateChangedEvent, AccountStateChanged{Account: account})
}

func (b *Bus) PublishError(message string) {
	b.publish(ErrorEvent, Error{Source: b.name, Message: message})
}
