package cache

// Event é o tipo de operação reportada ao Observer.
type Event string

const (
	EventHit   Event = "hit"
	EventMiss  Event = "miss"
	EventSet   Event = "set"
	EventEvict Event = "evict"
)

// Observer recebe os eventos do cache, fora do lock interno.
type Observer interface {
	OnCacheEvent(ev Event, key string)
}

// ObserverFunc adapta uma função para Observer.
type ObserverFunc func(ev Event, key string)

func (f ObserverFunc) OnCacheEvent(ev Event, key string) {
	if f == nil {
		return
	}
	f(ev, key)
}
