package runtime

import (
	"context"
	"fmt"
)

// NoneProvider never provisions a runtime. It exists so deployments can
// force the static preview path.
type NoneProvider struct{}

func (NoneProvider) Name() string { return "none" }

func (NoneProvider) Acquire(context.Context, Spec) (Runtime, error) {
	return nil, fmt.Errorf("runtime provider disabled: %w", ErrUnavailable)
}
