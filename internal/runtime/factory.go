package runtime

import (
	"fmt"
	"strings"
)

// Backend names a concrete Driver implementation.
type Backend string

const (
	BackendDocker Backend = "docker"
	BackendFake   Backend = "fake"
)

// New creates a Driver for the named backend. "docker" talks to a local
// Docker daemon; "fake" is the in-memory driver used by tests.
func New(backend string) (Driver, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(backend))) {
	case BackendDocker, "":
		return NewDockerDriver()
	case BackendFake:
		return NewFakeDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported runtime driver backend: %s (supported: docker, fake)", backend)
	}
}
