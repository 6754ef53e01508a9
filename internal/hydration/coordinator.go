package hydration

import (
	"io"
	"sync"

	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

// Attacher seeds modules into a loader as already present.
type Attacher interface {
	Attach(remote string, exposedPath string, version string, exports *types.Exports) types.ModuleInfo
}

// Coordinator is the client side of the handoff. It must hydrate the loader
// before the application starts loading modules.
type Coordinator struct {
	mu       sync.RWMutex
	rendered map[types.ModuleKey]types.HydrationRecord
}

func NewCoordinator(manifest types.TransferManifest) *Coordinator {
	c := &Coordinator{rendered: map[types.ModuleKey]types.HydrationRecord{}}
	for _, record := range manifest.Modules {
		if !record.Rendered {
			continue
		}
		record.ExposedPath = shared.NormalizeExposedPath(record.ExposedPath)
		c.rendered[types.ModuleKey{Remote: record.Remote, ExposedPath: record.ExposedPath}] = record
	}
	return c
}

// FromPage builds a coordinator from a server-rendered page. A page without
// a payload yields a coordinator with nothing rendered.
func FromPage(page io.Reader) (*Coordinator, error) {
	manifest, _, err := ExtractTransfer(page)
	if err != nil {
		return nil, err
	}
	return NewCoordinator(manifest), nil
}

// Hydrate attaches every server-rendered module to target and returns how
// many were attached.
func (c *Coordinator) Hydrate(target Attacher) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, record := range c.rendered {
		exports := types.NewExports(map[string]any{types.ExportHydrated: true})
		target.Attach(record.Remote, record.ExposedPath, record.Version, exports)
	}
	return len(c.rendered)
}

func (c *Coordinator) WasServerRendered(remote string, exposedPath string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rendered[types.ModuleKey{Remote: remote, ExposedPath: shared.NormalizeExposedPath(exposedPath)}]
	return ok
}

func (c *Coordinator) Rendered() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rendered)
}
