package motor

import "sync"

// Signal is a plain observer list. Handlers run on the emitting
// goroutine and receive a value copy of the status.
type Signal struct {
	mu       sync.Mutex
	handlers []func(DeviceStatus)
}

// Connect registers a handler.
func (s *Signal) Connect(fn func(DeviceStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

func (s *Signal) emit(st DeviceStatus) {
	s.mu.Lock()
	handlers := make([]func(DeviceStatus), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(st)
	}
}
