package locking

// NoOpGroup is a Group that performs no locking. Every call executes the
// function immediately. Useful in tests and single-writer setups.
type NoOpGroup struct{}

func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

func (n *NoOpGroup) DoWithLock(key string, fn func() (any, error)) (v any, err error) {
	return fn()
}
