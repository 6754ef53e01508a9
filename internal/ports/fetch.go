package ports

import (
	"context"

	"esm-federation/internal/types"
)

// FetchPort retrieves JSON documents (manifests, remote entries, import
// maps). Timeouts belong to the implementation.
type FetchPort interface {
	FetchJSON(ctx context.Context, url string, out any) error
}

// ModuleEvaluatorPort is the dynamic-import primitive: it fetches and
// evaluates the module at url exactly once per call.
type ModuleEvaluatorPort interface {
	Evaluate(ctx context.Context, url string) (*types.Exports, error)
}
