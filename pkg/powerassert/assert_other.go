//go:build !linux && !(darwin && cgo)

package powerassert

type noopAsserter struct{}

type noopAssertion struct{}

// NewAsserter returns an asserter that does nothing on this platform.
func NewAsserter() Asserter {
	return noopAsserter{}
}

func (noopAsserter) Acquire(string) (Assertion, error) { return noopAssertion{}, nil }

func (noopAssertion) Release() error { return nil }
