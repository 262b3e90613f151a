package resolve

import (
	"context"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// Resolver turns a request path into a live backend address by
// extracting the product UUID and asking the directory for it.
type Resolver struct {
	directory Directory
	logger    observability.Logger
}

// ResolverOption is a functional option for the resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for the resolver.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver backed by the given directory.
func NewResolver(directory Directory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		directory: directory,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the backend address for the path. A path without a
// UUID fails as not found before any directory call is made.
func (r *Resolver) Resolve(ctx context.Context, path string) (string, error) {
	uuid, ok := ExtractUUID(path)
	if !ok {
		r.logger.Error("no product UUID in path",
			observability.String("path", path))
		return "", &util.ProductNotFoundError{Path: path}
	}

	r.logger.Debug("resolving product",
		observability.String("path", path),
		observability.String("uuid", uuid))

	address, err := r.directory.ProductAddress(ctx, uuid)
	if err != nil {
		return "", err
	}

	r.logger.Info("product resolved",
		observability.String("uuid", uuid),
		observability.String("address", address))

	return address, nil
}
