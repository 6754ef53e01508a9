package ports

import (
	"context"

	"esm-federation/internal/types"
)

// BundlerPort is the build collaborator: it emits one physical file per
// entry point and leaves externals unresolved.
type BundlerPort interface {
	Bundle(ctx context.Context, req types.BundleRequest) (types.BundleResult, error)
}
