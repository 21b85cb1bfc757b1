// Package sigchan provides a non-blocking signal channel: it notifies that
// something happened without carrying data. Repeated emissions coalesce while
// the receiver is busy.
package sigchan

type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit sends a signal without blocking; dropped if the buffer is full.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C exposes the underlying channel for select.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
