// Package hydration hands server-rendered module usage to the client so
// hydration attaches to modules instead of fetching and executing them
// again.
package hydration

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"esm-federation/internal/loader"
	"esm-federation/internal/types"
)

// ScriptID is the id of the script element carrying the transfer payload.
const ScriptID = "__FEDERATION_SSR__"

// Observable is the part of the loader a recorder attaches to.
type Observable interface {
	Observe(observer loader.LoadObserver) func()
}

// Recorder collects the remote modules used during one server render.
type Recorder struct {
	mu      sync.Mutex
	records map[types.ModuleKey]types.HydrationRecord
}

func NewRecorder() *Recorder {
	return &Recorder{records: map[types.ModuleKey]types.HydrationRecord{}}
}

// Track records every remote module source loads until the returned func
// is called.
func (r *Recorder) Track(source Observable) func() {
	return source.Observe(r.Record)
}

// Record marks a loaded remote module as rendered. Shared packages are not
// part of the payload.
func (r *Recorder) Record(info types.ModuleInfo) {
	if info.Remote == "" || info.ExposedPath == "" {
		return
	}
	key := types.ModuleKey{Remote: info.Remote, ExposedPath: info.ExposedPath}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key] = types.HydrationRecord{
		Remote:      info.Remote,
		ExposedPath: info.ExposedPath,
		Rendered:    true,
		Version:     info.Version,
	}
}

func (r *Recorder) Manifest() types.TransferManifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	manifest := types.TransferManifest{Modules: make([]types.HydrationRecord, 0, len(r.records))}
	for _, record := range r.records {
		manifest.Modules = append(manifest.Modules, record)
	}
	sort.Slice(manifest.Modules, func(i, j int) bool {
		a, b := manifest.Modules[i], manifest.Modules[j]
		if a.Remote != b.Remote {
			return a.Remote < b.Remote
		}
		return a.ExposedPath < b.ExposedPath
	})
	return manifest
}

// RenderScript serializes the payload into a script element safe to embed
// in HTML.
func (r *Recorder) RenderScript() (string, error) {
	return RenderScript(r.Manifest())
}

func RenderScript(manifest types.TransferManifest) (string, error) {
	if manifest.Modules == nil {
		manifest.Modules = []types.HydrationRecord{}
	}
	// json.Marshal escapes <, > and & so the payload cannot close the element.
	data, err := json.Marshal(manifest)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode hydration payload").
			WithCause(err)
	}
	return fmt.Sprintf(`<script type="application/json" id="%s">%s</script>`, ScriptID, data), nil
}
