package events

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/core/types"
)

func addressString(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// Typed is implemented by events that render to the generic wire form.
type Typed interface {
	Event
	Event() *types.Event
}

// Render converts an event into its generic form. Events without a typed
// rendering only carry their type.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if typed, ok := evt.(Typed); ok {
		return typed.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Recorder is an Emitter that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Fanout forwards each event to every wrapped emitter in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
