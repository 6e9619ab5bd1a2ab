package reconcile

import (
	"time"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Subscribe returns a channel of change events and a function that cancels
// the subscription and closes the channel. Events are dropped for a
// subscriber whose buffer is full.
func (e *Engine) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.Event, buffer)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (e *Engine) publish(ev models.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			eventsDropped.Inc()
		}
	}
}

// cellEvent builds an event for a key, filling in the template label.
func (e *Engine) cellEvent(typ models.EventType, key models.ProgressKey, code int) models.Event {
	ev := models.Event{Type: typ, Key: key, Code: code}
	if tmpl, ok := e.registry.Template(key.Process); ok {
		ev.Label, _ = tmpl.Label(code)
	}
	return ev
}
