// Package listener turns the raw DOM events a browser beacon forwards for a
// tab into tracked user actions, page views and session bookkeeping.
package listener

import (
	"context"
	"sync"

	"clicktrail/api/models"
)

// Handler receives one dispatched DOM event.
type Handler func(ctx context.Context, ev models.DOMEvent)

type registration struct {
	id      int
	capture bool
	fn      Handler
}

// Document is the server-side stand-in for a tab's event target. Capture
// handlers run before bubble handlers, each group in registration order.
type Document struct {
	mu       sync.Mutex
	nextID   int
	handlers map[models.DOMEventKind][]registration
}

func NewDocument() *Document {
	return &Document{handlers: make(map[models.DOMEventKind][]registration)}
}

// AddEventListener registers fn for kind and returns the func that removes it.
// Calling the remove func more than once is harmless.
func (d *Document) AddEventListener(kind models.DOMEventKind, fn Handler, capture bool) (remove func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[kind] = append(d.handlers[kind], registration{id: id, capture: capture, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(kind, id) })
	}
}

func (d *Document) remove(kind models.DOMEventKind, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[kind]
	for i, r := range regs {
		if r.id == id {
			d.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(d.handlers[kind]) == 0 {
		delete(d.handlers, kind)
	}
}

// Dispatch runs the handlers registered for ev.Kind and reports how many ran.
func (d *Document) Dispatch(ctx context.Context, ev models.DOMEvent) int {
	d.mu.Lock()
	regs := append([]registration(nil), d.handlers[ev.Kind]...)
	d.mu.Unlock()

	n := 0
	for _, capture := range []bool{true, false} {
		for _, r := range regs {
			if r.capture == capture {
				r.fn(ctx, ev)
				n++
			}
		}
	}
	return n
}

// ListenerCount returns the number of registered handlers across all kinds.
func (d *Document) ListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, regs := range d.handlers {
		n += len(regs)
	}
	return n
}
