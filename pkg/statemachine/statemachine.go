package statemachine

// StateFn is a state function following Rob Pike's pattern: each state is a
// function that does its work and returns the next state function. Returning
// itself means "stay here", returning nil terminates the machine.
type StateFn[T any] func(*T) StateFn[T]

// Machine drives an entity through StateFn states, one step at a time. It is
// not safe for concurrent use; the owner is expected to step it from a single
// goroutine (the tick loop).
type Machine[T any] struct {
	entity *T
	fn     StateFn[T]
}

// New creates a machine for entity starting at initial.
func New[T any](entity *T, initial StateFn[T]) *Machine[T] {
	return &Machine[T]{entity: entity, fn: initial}
}

// Step executes the current state function once and stores the returned
// state. It reports false once the machine has terminated.
func (m *Machine[T]) Step() bool {
	if m.fn == nil {
		return false
	}
	m.fn = m.fn(m.entity)
	return m.fn != nil
}

// Set replaces the current state function without executing it.
func (m *Machine[T]) Set(fn StateFn[T]) {
	m.fn = fn
}

// Done reports whether the machine has reached the terminal (nil) state.
func (m *Machine[T]) Done() bool {
	return m.fn == nil
}
