package memory

// Counter hands out monotonically increasing ids starting at 1.
type Counter[T ~uint32] struct {
	last T
}

func (c *Counter[T]) Next() T {
	c.last++
	return c.last
}

// Last returns the most recently issued id, zero if none.
func (c *Counter[T]) Last() T {
	return c.last
}
