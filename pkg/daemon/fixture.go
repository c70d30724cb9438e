package daemon

import (
	"encoding/json"
	"fmt"
)

// FixtureHandler produces the canned result for one method. Handlers must
// reject parameter shapes they do not recognize via UnsupportedParams.
type FixtureHandler func(params []any) (any, error)

// Fixtures is the offline mode of the gateway: deterministic responses keyed
// by method name, for tests and local development without a node.
type Fixtures struct {
	handlers map[string]FixtureHandler
}

func NewFixtures() *Fixtures {
	return &Fixtures{handlers: map[string]FixtureHandler{}}
}

// Register installs the handler for a method, replacing any previous one.
func (f *Fixtures) Register(method string, h FixtureHandler) *Fixtures {
	f.handlers[method] = h
	return f
}

// UnsupportedParams is returned by handlers for parameter combinations they
// have no canned answer for.
func UnsupportedParams(method string, params []any) error {
	return fmt.Errorf("%w: method %q params %v", ErrUnsupportedFixture, method, params)
}

func (f *Fixtures) call(method string, params []any, out any) error {
	h, ok := f.handlers[method]
	if !ok {
		return fmt.Errorf("%w: method %q", ErrUnsupportedFixture, method)
	}
	v, err := h(params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	// Round-trip through JSON so fixtures exercise the same decoding as wire
	// responses.
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
