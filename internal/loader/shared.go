package loader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"

	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

// SetImportMap replaces the import map shared modules resolve through.
func (l *Loader) SetImportMap(importMap types.ImportMap) {
	if importMap.Imports == nil {
		importMap.Imports = map[string]string{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.importMap = importMap
	l.importMapURL = ""
}

// LoadImportMap fetches an import map; relative addresses in it resolve
// against url.
func (l *Loader) LoadImportMap(ctx context.Context, url string) error {
	var importMap types.ImportMap
	l.metrics.fetches.WithLabelValues(kindManifest).Inc()
	if err := l.fetcher.FetchJSON(ctx, url, &importMap); err != nil {
		l.metrics.failures.WithLabelValues(kindManifest).Inc()
		return loadFailure(fmt.Sprintf("failed to fetch import map %s", url), err)
	}
	l.SetImportMap(importMap)
	l.mu.Lock()
	l.importMapURL = url
	l.mu.Unlock()
	return nil
}

// LoadSharedModule loads a shared package through the top-level imports.
func (l *Loader) LoadSharedModule(ctx context.Context, pkg string) (*types.Exports, error) {
	return l.LoadSharedModuleFor(ctx, pkg, "")
}

// LoadSharedModuleFor loads a shared package as seen from referrer, which
// selects import map scopes. A singleton package resolves to the instance
// already on the page whoever asks for it.
//
// Unscoped loads share one cache key per package whether or not the package
// is known to be a singleton yet, so a singleton learned mid-load still joins
// the load in flight. Only scoped copies are keyed by address.
func (l *Loader) LoadSharedModuleFor(ctx context.Context, pkg string, referrer string) (*types.Exports, error) {
	if l.isSingleton(pkg) {
		if record, ok := l.cache.promoteShared(pkg, l.topLevelURL(pkg)); ok {
			l.metrics.cacheHits.WithLabelValues(kindShared).Inc()
			return record.exports, nil
		}
	}
	url, scoped, ok := l.resolveSpecifier(pkg, referrer)
	if !ok {
		return nil, shared.FederationError(
			errbuilder.CodeNotFound,
			shared.ErrSharedNotFound,
			fmt.Sprintf("shared package %s is not in the import map", pkg),
			nil,
		)
	}
	key := sharedSingletonKey(pkg)
	if scoped {
		key = sharedURLKey(pkg, url)
	}
	if record, ok := l.cache.module(key); ok {
		l.metrics.cacheHits.WithLabelValues(kindShared).Inc()
		return record.exports, nil
	}

	s := l.cache.stamp("")
	flightKey := fmt.Sprintf("%s@%d", key, s.generation)
	detached := context.WithoutCancel(ctx)
	value, err := l.await(ctx, l.group.DoChan(flightKey, func() (any, error) {
		return l.loadShared(detached, pkg, url, key, s)
	}))
	if err != nil {
		return nil, err
	}
	return value.(moduleRecord).exports, nil
}

func (l *Loader) loadShared(ctx context.Context, pkg string, url string, key string, s stamp) (moduleRecord, error) {
	if record, ok := l.cache.module(key); ok {
		return record, nil
	}
	if l.isSingleton(pkg) {
		if record, ok := l.cache.promoteShared(pkg, l.topLevelURL(pkg)); ok {
			return record, nil
		}
	}
	l.metrics.fetches.WithLabelValues(kindShared).Inc()
	exports, err := l.evaluator.Evaluate(ctx, url)
	if err != nil {
		l.metrics.failures.WithLabelValues(kindShared).Inc()
		return moduleRecord{}, loadFailure(fmt.Sprintf("failed to load shared package %s", pkg), err)
	}
	record := moduleRecord{
		info: types.ModuleInfo{
			ID:        uuid.NewString(),
			Name:      pkg,
			Version:   l.sharedVersion(pkg, url),
			URL:       url,
			Loaded:    true,
			Singleton: l.isSingleton(pkg),
			LoadedAt:  time.Now().UTC(),
		},
		exports: exports,
	}
	stored, current := l.cache.storeModule(key, "", s, record)
	if current {
		l.updateLoadedGauge()
	}
	return stored, nil
}

func (l *Loader) isSingleton(pkg string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.singletons[pkg]
}

// resolveSpecifier follows import map resolution: the longest scope prefix
// matching referrer wins, then the top-level imports. Scope prefixes resolve
// against the import map URL like addresses do. Singletons ignore scopes.
// scoped reports whether a scope supplied the address.
func (l *Loader) resolveSpecifier(pkg string, referrer string) (url string, scoped bool, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.singletons[pkg] && referrer != "" {
		best := ""
		for prefix, scope := range l.importMap.Scopes {
			if _, ok := scope[pkg]; !ok {
				continue
			}
			if strings.HasPrefix(referrer, l.absolute(prefix)) && len(prefix) > len(best) {
				best = prefix
			}
		}
		if best != "" {
			return l.absolute(l.importMap.Scopes[best][pkg]), true, true
		}
	}
	url, ok = l.importMap.Imports[pkg]
	if !ok || strings.TrimSpace(url) == "" {
		return "", false, false
	}
	return l.absolute(url), false, true
}

// topLevelURL is pkg's address in the top-level imports, or "".
func (l *Loader) topLevelURL(pkg string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	url, ok := l.importMap.Imports[pkg]
	if !ok || strings.TrimSpace(url) == "" {
		return ""
	}
	return l.absolute(url)
}

func (l *Loader) absolute(url string) string {
	if l.importMapURL == "" {
		return url
	}
	return shared.ResolveReference(l.importMapURL, url)
}

// sharedVersion reports the version a fetched remote entry declares for the
// package at url, when one does.
func (l *Loader) sharedVersion(pkg string, url string) string {
	fallback := ""
	for _, entry := range l.cache.entriesSnapshot() {
		for name, config := range entry.Metadata.Shared {
			if config.Key(name) != pkg {
				continue
			}
			if config.URL == url {
				return config.Version
			}
			if fallback == "" {
				fallback = config.Version
			}
		}
	}
	return fallback
}

func sharedSingletonKey(pkg string) string {
	return "shared:" + pkg
}

func sharedURLKey(pkg string, url string) string {
	return "shared:" + pkg + "@" + url
}
