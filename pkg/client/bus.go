package client

import (
	"encoding/json"
	"sync"
)

type Handler func(frame Frame)

// Bus dispatches server frames to handlers registered per event kind.
// Handlers run on the caller of Emit, in registration order.
type Bus struct {
	mu       sync.RWMutex
	seq      uint64
	handlers map[EventKind][]registration
}

type registration struct {
	id uint64
	fn Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[EventKind][]registration)}
}

// On registers fn for kind and returns a func that removes it.
func (b *Bus) On(kind EventKind, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.handlers[kind] = append(b.handlers[kind], registration{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

// Off removes every handler of kind.
func (b *Bus) Off(kind EventKind) {
	b.mu.Lock()
	delete(b.handlers, kind)
	b.mu.Unlock()
}

func (b *Bus) Emit(frame Frame) {
	b.mu.RLock()
	regs := append([]registration(nil), b.handlers[frame.Event]...)
	b.mu.RUnlock()

	for _, r := range regs {
		r.fn(frame)
	}
}

func (b *Bus) remove(kind EventKind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[kind]
	for i, r := range regs {
		if r.id == id {
			b.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// OnData registers a handler that receives the frame data decoded as T.
// Frames whose data does not decode are skipped.
func OnData[T any](b *Bus, kind EventKind, fn func(T)) (unsubscribe func()) {
	return b.On(kind, func(frame Frame) {
		var v T
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &v); err != nil {
				return
			}
		}
		fn(v)
	})
}
