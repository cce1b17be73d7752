package bridge

import (
	"sort"
	"sync"
)

// EventName identifies a kind of out-of-band engine event.
type EventName string

const (
	// EventShell carries a chunk of interactive shell output.
	EventShell EventName = "Shell"
	// EventDownloadProgress carries a download percentage ("0".."100").
	EventDownloadProgress EventName = "DownloadProgress"
	// EventUploadProgress carries an upload percentage ("0".."100").
	EventUploadProgress EventName = "UploadProgress"
)

// Event is a broadcast engine event. Key is the correlation key of the
// coordinator the event belongs to; every subscribed listener sees every
// event and filters by key itself.
type Event struct {
	Name  EventName
	Key   string
	Value string
}

// Listener receives broadcast events.
type Listener func(Event)

// Subscription is a live listener registration. Remove is idempotent.
type Subscription interface {
	Remove()
}

// EventBus is a broadcast channel for engine events. Subscribe registers a
// listener for one event name; the listener receives every published event
// of that name, regardless of key.
type EventBus interface {
	Subscribe(name EventName, l Listener) Subscription
}

// Publisher is the sending side of an event bus, used by Transport
// implementations.
type Publisher interface {
	Publish(ev Event)
}

// Bus is an in-process EventBus and Publisher. The zero value is not
// usable; create one with NewBus. Listeners are invoked synchronously, in
// registration order, on the publishing goroutine.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[EventName]map[int]Listener
}

// NewBus creates an empty in-process bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[EventName]map[int]Listener),
	}
}

// Subscribe registers a listener for the given event name.
func (b *Bus) Subscribe(name EventName, l Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	m, ok := b.subs[name]
	if !ok {
		m = make(map[int]Listener)
		b.subs[name] = m
	}
	m[id] = l
	return &busSub{bus: b, name: name, id: id}
}

// Publish delivers the event to every listener subscribed to its name.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	m := b.subs[ev.Name]
	ls := make([]Listener, 0, len(m))
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	// stable order for same-name listeners
	sort.Ints(ids)
	for _, id := range ids {
		ls = append(ls, m[id])
	}
	b.mu.RUnlock()
	for _, l := range ls {
		l(ev)
	}
}

type busSub struct {
	bus  *Bus
	name EventName
	id   int
	once sync.Once
}

func (s *busSub) Remove() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if m, ok := s.bus.subs[s.name]; ok {
			delete(m, s.id)
			if len(m) == 0 {
				delete(s.bus.subs, s.name)
			}
		}
	})
}

var (
	defaultBusOnce sync.Once
	defaultBus     *Bus
)

// DefaultBus returns the process-wide bus shared by every coordinator that
// does not bring its own. Correlation-key filtering is the only isolation
// between instances on this bus.
func DefaultBus() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = NewBus()
	})
	return defaultBus
}
