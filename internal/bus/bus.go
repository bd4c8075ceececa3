// Package bus fans inbound frames out to subscribers keyed by frame type.
//
// Delivery is at-most-once: a frame whose type has no subscribers is dropped
// silently. Dispatch snapshots the subscriber list before iterating, so
// handlers may subscribe or unsubscribe (themselves included) mid-dispatch
// without corrupting the in-progress fan-out.
package bus

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/protocol"
)

// Handler receives one inbound frame.
type Handler func(protocol.Frame)

// Handle identifies a subscription for later removal.
type Handle struct {
	frameType protocol.FrameType
	id        uint64
}

type subscriber struct {
	id uint64
	fn Handler
}

// Bus is a type-keyed subscription registry.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[protocol.FrameType][]subscriber
}

func New() *Bus {
	return &Bus{subs: make(map[protocol.FrameType][]subscriber)}
}

// Subscribe registers fn for frames of type t.
func (b *Bus) Subscribe(t protocol.FrameType, fn Handler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[t] = append(b.subs[t], subscriber{id: b.nextID, fn: fn})
	return Handle{frameType: t, id: b.nextID}
}

// Unsubscribe removes the subscription; the handler is never invoked for
// frames dispatched afterwards. Unknown handles are no-ops.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[h.frameType]
	for i, s := range list {
		if s.id == h.id {
			b.subs[h.frameType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch delivers frame to every subscriber registered for its type at the
// moment of the call. One subscriber panicking does not stop delivery to the
// rest. Frames of unknown type are dropped.
func (b *Bus) Dispatch(frame protocol.Frame) {
	if !protocol.Known(frame.Type) {
		log.Debug().Str("type", string(frame.Type)).Msg("dropping frame of unknown type")
		return
	}

	b.mu.Lock()
	list := b.subs[frame.Type]
	snapshot := make([]subscriber, len(list))
	copy(snapshot, list)
	b.mu.Unlock()

	for _, s := range snapshot {
		b.invoke(s, frame)
	}
}

func (b *Bus) invoke(s subscriber, frame protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("type", string(frame.Type)).Msg("subscriber panicked")
		}
	}()
	s.fn(frame)
}
