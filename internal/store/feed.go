package store

import "sync"

// changeFeed fans change events out to registered handlers. Shared by all
// store implementations so OnChange semantics stay identical across
// backends.
type changeFeed struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]ChangeHandler
}

func (f *changeFeed) attach(handler ChangeHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handlers == nil {
		f.handlers = make(map[int]ChangeHandler)
	}
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers, id)
			f.mu.Unlock()
		})
	}
}

func (f *changeFeed) emit(resource string, event EventKind, record Record) {
	f.mu.RLock()
	handlers := make([]ChangeHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(resource, event, record)
	}
}
