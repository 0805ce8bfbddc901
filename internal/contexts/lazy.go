package contexts

import "sync"

type loadState int

const (
	unloaded loadState = iota
	loaded
)

// lazy holds a value that is loaded at most once. A failed load leaves it
// unloaded so the next call tries again.
type lazy[T any] struct {
	mu    sync.Mutex
	state loadState
	value T
}

func (l *lazy[T]) get(load func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == loaded {
		return l.value, nil
	}
	value, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	l.value = value
	l.state = loaded
	return value, nil
}
