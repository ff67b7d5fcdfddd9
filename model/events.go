package model

// Event names emitted by models and collections.
type Event string

const (
	EventChange  Event = "change"
	EventDestroy Event = "destroy"
	EventSync    Event = "sync"
	EventError   Event = "error"
	EventAdd     Event = "add"
	EventRemove  Event = "remove"
	EventReset   Event = "reset"
)

// ChangeFunc observes a single attribute; value is the new value (nil when unset).
type ChangeFunc func(m *Model, value any)

// Subscription is the handle of a registered listener.
type Subscription struct {
	cancel func()
	done   bool
}

// Cancel detaches the listener. It is safe to call more than once and on nil.
func (s *Subscription) Cancel() {
	if s == nil || s.done {
		return
	}
	s.done = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Active reports whether the listener is still attached.
func (s *Subscription) Active() bool {
	return s != nil && !s.done
}

// listeners keeps callbacks in registration order.
type listeners[F any] struct {
	seq     int
	entries []listener[F]
}

type listener[F any] struct {
	id  int
	fn  F
	sub *Subscription
}

func (l *listeners[F]) add(fn F) *Subscription {
	l.seq++
	id := l.seq
	sub := &Subscription{}
	sub.cancel = func() { l.remove(id) }
	l.entries = append(l.entries, listener[F]{id: id, fn: fn, sub: sub})
	return sub
}

func (l *listeners[F]) remove(id int) {
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns the callbacks registered right now; listeners added or
// removed while the snapshot is being invoked do not affect it.
func (l *listeners[F]) snapshot() []listener[F] {
	if l == nil {
		return nil
	}
	return append([]listener[F](nil), l.entries...)
}

// drain detaches every listener and returns them, for one-shot queues.
func (l *listeners[F]) drain() []listener[F] {
	if l == nil {
		return nil
	}
	out := l.entries
	l.entries = nil
	for _, e := range out {
		e.sub.done = true
	}
	return out
}

func (l *listeners[F]) len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}
