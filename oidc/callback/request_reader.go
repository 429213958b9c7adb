package callback

import (
	"context"
	"fmt"

	"github.com/protezlab/reportgate/oidc"
)

// RequestReader looks up the pending oidc.Request for a callback's state.
// The returned request's State() must equal state. Handlers call Read
// concurrently.
type RequestReader interface {
	Read(ctx context.Context, state string) (oidc.Request, error)
}

// RequestDeleter is implemented by a RequestReader that can forget a request
// once its callback arrived, which makes every state single use.
type RequestDeleter interface {
	Delete(ctx context.Context, state string) error
}

// SingleRequestReader reads one known request. It is safe for concurrent
// use as long as Request isn't changed.
type SingleRequestReader struct {
	Request oidc.Request
}

// Read returns the request when state is its state, and an oidc.ErrNotFound
// error otherwise.
func (sr *SingleRequestReader) Read(_ context.Context, state string) (oidc.Request, error) {
	const op = "SingleRequestReader.Read"
	if sr.Request == nil || sr.Request.State() != state {
		return nil, fmt.Errorf("%s: no request for state %q: %w", op, state, oidc.ErrNotFound)
	}
	return sr.Request, nil
}
