package status

import "sync"

// Observer receives status events. Implementations must not call back into
// the Bus that is delivering to them.
type Observer interface {
	OnStatus(StatusEvent)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(StatusEvent)

func (f ObserverFunc) OnStatus(e StatusEvent) { f(e) }

// Bus fans status events out to registered observers.
//
// Publish delivers to every observer before returning, so a single observer
// always sees events in emission order. Publish calls are serialized.
type Bus struct {
	mu        sync.RWMutex
	publishMu sync.Mutex
	nextID    int
	observers map[int]Observer
	order     []int
}

func NewBus() *Bus {
	return &Bus{observers: make(map[int]Observer)}
}

// Subscribe registers o and returns a function that unregisters it.
func (b *Bus) Subscribe(o Observer) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = o
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish hands e to each observer registered at the time of the call.
func (b *Bus) Publish(e StatusEvent) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	obs := make([]Observer, 0, len(b.order))
	for _, id := range b.order {
		obs = append(obs, b.observers[id])
	}
	b.mu.RUnlock()

	for _, o := range obs {
		o.OnStatus(e)
	}
}
