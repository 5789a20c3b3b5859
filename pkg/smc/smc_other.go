//go:build !darwin

package smc

var _ ReadWriter = &AppleSMC{}

// AppleSMC has no backing connection outside macOS. Every call fails with
// ErrUnavailable, so callers fall back to the helper or report the
// capabilities as missing.
type AppleSMC struct{}

// New returns an AppleSMC that cannot be opened.
func New() *AppleSMC {
	return &AppleSMC{}
}

func (c *AppleSMC) Open() error {
	return ErrUnavailable
}

func (c *AppleSMC) Close() error {
	return nil
}

func (c *AppleSMC) Read(string) ([]byte, error) {
	return nil, ErrUnavailable
}

func (c *AppleSMC) Write(string, []byte) error {
	return ErrUnavailable
}
