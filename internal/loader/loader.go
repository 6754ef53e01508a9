// Package loader is the federation runtime: it reads the host's federation
// manifest, fetches remote entries lazily and loads exposed and shared
// modules exactly once per cache generation.
package loader

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"esm-federation/internal/ports"
	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

const preloadConcurrency = 4

// LoadObserver sees every successful remote module load, cached or not.
type LoadObserver func(info types.ModuleInfo)

type Options struct {
	Fetcher   ports.FetchPort
	Evaluator ports.ModuleEvaluatorPort
	// Cache defaults to a fresh cache owned by this loader.
	Cache  *Cache
	Logger *zerolog.Logger
	// Registerer receives the loader's collectors. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
	// Singletons marks shared packages as singleton before any remote entry
	// declaring them has been fetched.
	Singletons []string
	Observer   LoadObserver
}

type Loader struct {
	fetcher   ports.FetchPort
	evaluator ports.ModuleEvaluatorPort
	cache     *Cache
	logger    zerolog.Logger
	metrics   *metrics
	group     singleflight.Group

	initMu sync.Mutex

	mu           sync.RWMutex
	initialized  bool
	manifestURL  string
	manifestErr  error
	remotes      map[string]string
	remoteErrs   map[string]string
	importMap    types.ImportMap
	importMapURL string
	singletons   map[string]bool
	configured   []string
	observers    map[int]LoadObserver
	nextObserver int
}

func New(opts Options) (*Loader, error) {
	if opts.Fetcher == nil || opts.Evaluator == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("loader requires a fetcher and an evaluator")
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewCache()
	}
	logger := log.Logger.With().Str("component", "loader").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	l := &Loader{
		fetcher:    opts.Fetcher,
		evaluator:  opts.Evaluator,
		cache:      cache,
		logger:     logger,
		metrics:    newMetrics(opts.Registerer),
		remotes:    map[string]string{},
		remoteErrs: map[string]string{},
		importMap:  types.ImportMap{Imports: map[string]string{}},
		singletons: seedSingletons(opts.Singletons),
		configured: append([]string(nil), opts.Singletons...),
		observers:  map[int]LoadObserver{},
	}
	if opts.Observer != nil {
		l.Observe(opts.Observer)
	}
	return l, nil
}

// Initialize reads the federation manifest once. An empty url starts with no
// remotes. A manifest that cannot be fetched is logged and recorded in the
// status, and the loader starts with no remotes known.
func (l *Loader) Initialize(ctx context.Context, manifestURL string) error {
	l.initMu.Lock()
	defer l.initMu.Unlock()
	if l.IsInitialized() {
		return nil
	}
	l.initialize(ctx, manifestURL)
	return nil
}

// Reinitialize drops the cache and the manifest, then initializes again. An
// empty url reuses the previous manifest url.
func (l *Loader) Reinitialize(ctx context.Context, manifestURL string) error {
	l.initMu.Lock()
	defer l.initMu.Unlock()
	l.cache.Clear()
	l.mu.Lock()
	if manifestURL == "" {
		manifestURL = l.manifestURL
	}
	l.initialized = false
	l.manifestURL = ""
	l.manifestErr = nil
	l.remotes = map[string]string{}
	l.remoteErrs = map[string]string{}
	l.singletons = seedSingletons(l.configured)
	l.mu.Unlock()
	l.metrics.loaded.Set(0)
	l.initialize(ctx, manifestURL)
	return nil
}

func (l *Loader) initialize(ctx context.Context, manifestURL string) {
	manifest := types.FederationManifest{}
	var manifestErr error
	if manifestURL != "" {
		l.metrics.fetches.WithLabelValues(kindManifest).Inc()
		if err := l.fetcher.FetchJSON(ctx, manifestURL, &manifest); err != nil {
			l.metrics.failures.WithLabelValues(kindManifest).Inc()
			manifestErr = shared.FederationError(
				errbuilder.CodeUnavailable,
				shared.ErrManifestUnavailable,
				fmt.Sprintf("federation manifest unavailable: %s", manifestURL),
				err,
			)
			manifest = types.FederationManifest{}
			l.logger.Warn().Err(err).Str("manifest", manifestURL).Msg("federation manifest unavailable, starting with no remotes")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for name, entryURL := range manifest {
		if _, registered := l.remotes[name]; registered {
			continue
		}
		l.remotes[name] = shared.ResolveReference(manifestURL, entryURL)
	}
	l.manifestURL = manifestURL
	l.manifestErr = manifestErr
	l.initialized = true
	l.logger.Debug().Str("manifest", manifestURL).Int("remotes", len(l.remotes)).Msg("loader initialized")
}

func (l *Loader) IsInitialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialized
}

// RegisterRemote adds or replaces a remote. Replacing a remote's entry url
// invalidates everything cached for it.
func (l *Loader) RegisterRemote(name string, entryURL string) error {
	name = strings.TrimSpace(name)
	entryURL = strings.TrimSpace(entryURL)
	if name == "" || entryURL == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("remote name and entry url are required")
	}
	l.mu.Lock()
	previous, existed := l.remotes[name]
	l.remotes[name] = entryURL
	l.mu.Unlock()
	if existed && previous != entryURL {
		l.InvalidateRemote(name)
	}
	return nil
}

// Observe registers an observer and returns its cancel func.
func (l *Loader) Observe(observer LoadObserver) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextObserver
	l.nextObserver++
	l.observers[id] = observer
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.observers, id)
	}
}

func (l *Loader) notify(info types.ModuleInfo) {
	l.mu.RLock()
	observers := make([]LoadObserver, 0, len(l.observers))
	for _, observer := range l.observers {
		observers = append(observers, observer)
	}
	l.mu.RUnlock()
	for _, observer := range observers {
		observer(info)
	}
}

// LoadRemoteModule loads exposedPath from remote. Concurrent callers for the
// same module share one fetch and one evaluation and receive the same
// exports. Callers that give up through ctx get ctx.Err() while the load
// still completes for later callers.
func (l *Loader) LoadRemoteModule(ctx context.Context, remote string, exposedPath string) (*types.Exports, error) {
	path := shared.NormalizeExposedPath(exposedPath)
	key := remoteModuleKey(remote, path)
	if record, ok := l.cache.module(key); ok {
		l.metrics.cacheHits.WithLabelValues(kindModule).Inc()
		l.notify(record.info)
		return record.exports, nil
	}
	entryURL, ok := l.remoteURL(remote)
	if !ok {
		return nil, remoteNotFound(remote)
	}
	value, err := l.await(ctx, l.startModuleLoad(ctx, remote, path, entryURL))
	if err != nil {
		return nil, err
	}
	record := value.(moduleRecord)
	l.notify(record.info)
	return record.exports, nil
}

// PreloadModule starts loading a module without waiting for it.
func (l *Loader) PreloadModule(ctx context.Context, remote string, exposedPath string) error {
	path := shared.NormalizeExposedPath(exposedPath)
	if _, ok := l.cache.module(remoteModuleKey(remote, path)); ok {
		return nil
	}
	entryURL, ok := l.remoteURL(remote)
	if !ok {
		return remoteNotFound(remote)
	}
	l.startModuleLoad(ctx, remote, path, entryURL)
	return nil
}

// PreloadRemotes fetches every known remote entry concurrently.
func (l *Loader) PreloadRemotes(ctx context.Context) error {
	remotes := l.remoteSnapshot()
	names := make([]string, 0, len(remotes))
	for name := range remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, name := range names {
		g.Go(func() error {
			_, err := l.fetchEntry(gctx, name, remotes[name], l.cache.stamp(name))
			return err
		})
	}
	return g.Wait()
}

func (l *Loader) startModuleLoad(ctx context.Context, remote string, path string, entryURL string) <-chan singleflight.Result {
	s := l.cache.stamp(remote)
	flightKey := fmt.Sprintf("module:%s@%d.%d", remoteModuleKey(remote, path), s.generation, s.epoch)
	detached := context.WithoutCancel(ctx)
	return l.group.DoChan(flightKey, func() (any, error) {
		return l.loadRemoteModule(detached, remote, path, entryURL, s)
	})
}

func (l *Loader) loadRemoteModule(ctx context.Context, remote string, path string, entryURL string, s stamp) (moduleRecord, error) {
	key := remoteModuleKey(remote, path)
	if record, ok := l.cache.module(key); ok {
		return record, nil
	}
	entry, err := l.fetchEntry(ctx, remote, entryURL, s)
	if err != nil {
		return moduleRecord{}, err
	}
	moduleURL, ok := entry.Metadata.Exposes[path]
	if !ok || strings.TrimSpace(moduleURL) == "" {
		return moduleRecord{}, shared.FederationError(
			errbuilder.CodeNotFound,
			shared.ErrModuleNotExposed,
			fmt.Sprintf("remote %s does not expose %s", remote, path),
			nil,
		)
	}
	moduleURL = shared.ResolveReference(entryURL, moduleURL)

	l.metrics.fetches.WithLabelValues(kindModule).Inc()
	exports, err := l.evaluator.Evaluate(ctx, moduleURL)
	if err != nil {
		l.metrics.failures.WithLabelValues(kindModule).Inc()
		return moduleRecord{}, loadFailure(fmt.Sprintf("failed to load %s from remote %s", path, remote), err)
	}
	record := moduleRecord{
		info: types.ModuleInfo{
			ID:          uuid.NewString(),
			Name:        remote + "/" + strings.TrimPrefix(path, "./"),
			Version:     entry.Metadata.Version,
			URL:         moduleURL,
			Deps:        l.sharedDeps(entry),
			Loaded:      true,
			Remote:      remote,
			ExposedPath: path,
			LoadedAt:    time.Now().UTC(),
		},
		exports: exports,
	}
	stored, current := l.cache.storeModule(key, remote, s, record)
	if !current {
		log.Ctx(ctx).Debug().Str("remote", remote).Str("path", path).Msg("cache invalidated during load, result not cached")
		return stored, nil
	}
	l.updateLoadedGauge()
	return stored, nil
}

// fetchEntry returns remote's entry, fetching it at most once per stamp.
func (l *Loader) fetchEntry(ctx context.Context, remote string, entryURL string, s stamp) (types.RemoteEntry, error) {
	if entry, ok := l.cache.entry(remote); ok {
		l.metrics.cacheHits.WithLabelValues(kindRemoteEntry).Inc()
		return entry, nil
	}
	flightKey := fmt.Sprintf("entry:%s@%d.%d", remote, s.generation, s.epoch)
	detached := context.WithoutCancel(ctx)
	value, err := l.await(ctx, l.group.DoChan(flightKey, func() (any, error) {
		if entry, ok := l.cache.entry(remote); ok {
			return entry, nil
		}
		var entry types.RemoteEntry
		l.metrics.fetches.WithLabelValues(kindRemoteEntry).Inc()
		if err := l.fetcher.FetchJSON(detached, entryURL, &entry); err != nil {
			l.metrics.failures.WithLabelValues(kindRemoteEntry).Inc()
			l.recordRemoteError(remote, err)
			return types.RemoteEntry{}, loadFailure(fmt.Sprintf("failed to fetch remote entry for %s", remote), err)
		}
		if entry.Name == "" {
			entry.Name = remote
		}
		if entry.URL == "" {
			entry.URL = entryURL
		}
		exposes := make(map[string]string, len(entry.Metadata.Exposes))
		for path, url := range entry.Metadata.Exposes {
			exposes[shared.NormalizeExposedPath(path)] = url
		}
		entry.Metadata.Exposes = exposes
		l.cache.storeEntry(remote, s, entry)
		l.recordRemoteError(remote, nil)
		l.learnSingletons(entry)
		return entry, nil
	}))
	if err != nil {
		return types.RemoteEntry{}, err
	}
	return value.(types.RemoteEntry), nil
}

func (l *Loader) await(ctx context.Context, ch <-chan singleflight.Result) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		return result.Val, result.Err
	}
}

// Attach seeds a module as already present, as delivered by server-side
// rendering. Later loads of the module return exports without fetching.
func (l *Loader) Attach(remote string, exposedPath string, version string, exports *types.Exports) types.ModuleInfo {
	path := shared.NormalizeExposedPath(exposedPath)
	if exports == nil {
		exports = types.NewExports(map[string]any{types.ExportHydrated: true})
	}
	info := types.ModuleInfo{
		ID:          uuid.NewString(),
		Name:        remote + "/" + strings.TrimPrefix(path, "./"),
		Version:     version,
		URL:         exports.String(types.ExportURL),
		Loaded:      true,
		Remote:      remote,
		ExposedPath: path,
		Hydrated:    true,
		LoadedAt:    time.Now().UTC(),
	}
	record, stored := l.cache.attach(remoteModuleKey(remote, path), moduleRecord{info: info, exports: exports})
	if stored {
		l.updateLoadedGauge()
	}
	return record.info
}

// ClearCache drops every cached module and remote entry. The manifest and
// import map stay.
func (l *Loader) ClearCache() {
	l.cache.Clear()
	l.metrics.loaded.Set(0)
	l.logger.Debug().Msg("module cache cleared")
}

// InvalidateRemote drops only remote's entry and modules and returns how
// many modules were removed.
func (l *Loader) InvalidateRemote(remote string) int {
	removed := l.cache.invalidateRemote(remote)
	l.updateLoadedGauge()
	l.logger.Debug().Str("remote", remote).Int("modules", removed).Msg("remote invalidated")
	return removed
}

// RefreshRemote invalidates remote and fetches its entry again.
func (l *Loader) RefreshRemote(ctx context.Context, remote string) error {
	entryURL, ok := l.remoteURL(remote)
	if !ok {
		return remoteNotFound(remote)
	}
	l.InvalidateRemote(remote)
	_, err := l.fetchEntry(ctx, remote, entryURL, l.cache.stamp(remote))
	return err
}

func (l *Loader) GetLoadedModules() []types.ModuleInfo {
	return l.cache.modulesSnapshot()
}

func (l *Loader) GetFederationStatus() types.FederationStatus {
	entries := l.cache.entriesSnapshot()
	modules := l.cache.modulesSnapshot()

	l.mu.RLock()
	defer l.mu.RUnlock()
	status := types.FederationStatus{
		Initialized:   l.initialized,
		ManifestURL:   l.manifestURL,
		LoadedModules: len(modules),
		SharedImports: len(l.importMap.Imports),
	}
	if l.manifestErr != nil {
		status.ManifestError = l.manifestErr.Error()
	}
	names := make([]string, 0, len(l.remotes))
	for name := range l.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		remote := types.RemoteStatus{Name: name, EntryURL: l.remotes[name], LastError: l.remoteErrs[name]}
		if entry, ok := entries[name]; ok {
			remote.Fetched = true
			remote.Version = entry.Metadata.Version
		}
		status.Remotes = append(status.Remotes, remote)
	}
	for _, info := range modules {
		if info.Hydrated {
			status.Hydrated++
		}
	}
	return status
}

func (l *Loader) remoteURL(remote string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entryURL, ok := l.remotes[remote]
	return entryURL, ok
}

func (l *Loader) remoteSnapshot() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.remotes))
	for name, entryURL := range l.remotes {
		out[name] = entryURL
	}
	return out
}

func (l *Loader) recordRemoteError(remote string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.remoteErrs, remote)
		return
	}
	l.remoteErrs[remote] = err.Error()
}

func (l *Loader) learnSingletons(entry types.RemoteEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, config := range entry.Metadata.Shared {
		if config.Singleton {
			l.singletons[config.Key(name)] = true
		}
	}
}

func seedSingletons(names []string) map[string]bool {
	singletons := make(map[string]bool, len(names))
	for _, name := range names {
		singletons[name] = true
	}
	return singletons
}

func (l *Loader) sharedDeps(entry types.RemoteEntry) []string {
	var deps []string
	for name, config := range entry.Metadata.Shared {
		key := config.Key(name)
		if record, ok := l.cache.sharedInstance(key, l.topLevelURL(key)); ok {
			deps = append(deps, record.info.ID)
		}
	}
	sort.Strings(deps)
	return deps
}

func (l *Loader) updateLoadedGauge() {
	l.metrics.loaded.Set(float64(l.cache.size()))
}

func remoteModuleKey(remote string, path string) string {
	return "remote:" + remote + ":" + path
}

func remoteNotFound(remote string) error {
	return shared.FederationError(
		errbuilder.CodeNotFound,
		shared.ErrRemoteNotFound,
		fmt.Sprintf("remote %s is not registered", remote),
		nil,
	)
}

func loadFailure(msg string, cause error) error {
	return shared.FederationError(errbuilder.CodeUnavailable, shared.ErrLoadFailure, msg, cause)
}
