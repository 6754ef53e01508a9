package loader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

func federationImportMap() types.ImportMap {
	return types.ImportMap{
		Imports: map[string]string{
			"react":    reactURL,
			"date-fns": dateFnsURL,
			"checkout": checkoutURL,
		},
		Scopes: map[string]map[string]string{
			checkoutBase: {"date-fns": dateFnsOld, "react": "https://cdn.test/checkout/react.js"},
		},
	}
}

func TestSingletonLoadsOneInstancePageWide(t *testing.T) {
	l, _, evaluator := newTestLoader(t, Options{Singletons: []string{"react"}})
	l.SetImportMap(federationImportMap())
	gate := make(chan struct{})
	evaluator.gate = gate

	referrers := []string{"", "https://cdn.test/shell/app.js", checkoutBase + "Button.js", "https://cdn.test/catalog/Grid.js"}
	results := make([]*types.Exports, len(referrers))
	var wg sync.WaitGroup
	for i, referrer := range referrers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exports, err := l.LoadSharedModuleFor(context.Background(), "react", referrer)
			assert.NoError(t, err)
			results[i] = exports
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, exports := range results {
		assert.Same(t, results[0], exports)
	}
	assert.Equal(t, 1, evaluator.total())
	assert.Equal(t, reactURL, results[0].String(types.ExportURL))

	var reactInstances []types.ModuleInfo
	for _, info := range l.GetLoadedModules() {
		if info.Name == "react" {
			reactInstances = append(reactInstances, info)
		}
	}
	require.Len(t, reactInstances, 1)
	assert.True(t, reactInstances[0].Singleton)
}

func TestSingletonLearnedFromRemoteEntry(t *testing.T) {
	l, _, evaluator := newTestLoader(t, Options{})
	l.SetImportMap(federationImportMap())
	require.NoError(t, l.PreloadRemotes(t.Context()))

	scoped, err := l.LoadSharedModuleFor(t.Context(), "react", checkoutBase+"Button.js")
	require.NoError(t, err)
	top, err := l.LoadSharedModule(t.Context(), "react")
	require.NoError(t, err)

	assert.Same(t, scoped, top)
	assert.Equal(t, reactURL, top.String(types.ExportURL))
	assert.Equal(t, 1, evaluator.total())

	modules := l.GetLoadedModules()
	require.Len(t, modules, 1)
	assert.Equal(t, "18.2.0", modules[0].Version)
}

func TestNonSingletonHonoursScopes(t *testing.T) {
	l, _, evaluator := newTestLoader(t, Options{})
	l.SetImportMap(federationImportMap())

	shell, err := l.LoadSharedModule(t.Context(), "date-fns")
	require.NoError(t, err)
	checkout, err := l.LoadSharedModuleFor(t.Context(), "date-fns", checkoutBase+"Cart.js")
	require.NoError(t, err)
	again, err := l.LoadSharedModuleFor(t.Context(), "date-fns", checkoutBase+"Button.js")
	require.NoError(t, err)

	assert.Equal(t, dateFnsURL, shell.String(types.ExportURL))
	assert.Equal(t, dateFnsOld, checkout.String(types.ExportURL))
	assert.Same(t, checkout, again)
	assert.Equal(t, 2, evaluator.total())
}

func TestSharedModuleNotInImportMap(t *testing.T) {
	l, _, _ := newTestLoader(t, Options{})

	_, err := l.LoadSharedModule(t.Context(), "vue")
	require.Error(t, err)
	assert.True(t, shared.Is(err, shared.ErrSharedNotFound))
	assert.Empty(t, l.GetLoadedModules())
}

func TestLoadImportMapResolvesRelativeAddresses(t *testing.T) {
	l, fetcher, evaluator := newTestLoader(t, Options{})
	fetcher.set("https://host.test/importmap.json", types.ImportMap{
		Imports: map[string]string{"react": "vendor/react.js"},
	})

	require.NoError(t, l.LoadImportMap(t.Context(), "https://host.test/importmap.json"))
	assert.Equal(t, 1, l.GetFederationStatus().SharedImports)

	exports, err := l.LoadSharedModule(t.Context(), "react")
	require.NoError(t, err)
	assert.Equal(t, "https://host.test/vendor/react.js", exports.String(types.ExportURL))
	assert.Equal(t, 1, evaluator.count("https://host.test/vendor/react.js"))

	err = l.LoadImportMap(t.Context(), "https://host.test/missing.json")
	assert.True(t, shared.Is(err, shared.ErrLoadFailure))
}

func TestRelativeScopePrefixesMatchAbsoluteReferrers(t *testing.T) {
	l, fetcher, _ := newTestLoader(t, Options{})
	fetcher.set("https://host.test/shell/importmap.json", types.ImportMap{
		Imports: map[string]string{"date-fns": "/catalog/shared/date-fns.js"},
		Scopes: map[string]map[string]string{
			"/checkout/": {"date-fns": "/checkout/shared/date-fns.js"},
		},
	})
	require.NoError(t, l.LoadImportMap(t.Context(), "https://host.test/shell/importmap.json"))

	scoped, err := l.LoadSharedModuleFor(t.Context(), "date-fns", "https://host.test/checkout/Cart.js")
	require.NoError(t, err)
	assert.Equal(t, "https://host.test/checkout/shared/date-fns.js", scoped.String(types.ExportURL))

	global, err := l.LoadSharedModuleFor(t.Context(), "date-fns", "https://host.test/catalog/Grid.js")
	require.NoError(t, err)
	assert.Equal(t, "https://host.test/catalog/shared/date-fns.js", global.String(types.ExportURL))
}

func TestClearCacheDropsSingletons(t *testing.T) {
	l, _, evaluator := newTestLoader(t, Options{Singletons: []string{"react"}})
	l.SetImportMap(federationImportMap())

	first, err := l.LoadSharedModule(t.Context(), "react")
	require.NoError(t, err)
	l.ClearCache()
	second, err := l.LoadSharedModule(t.Context(), "react")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, evaluator.count(reactURL))
}

func TestSingletonLearnedMidLoadJoinsInFlightLoad(t *testing.T) {
	l, _, evaluator := newTestLoader(t, Options{})
	l.SetImportMap(federationImportMap())
	gate := make(chan struct{})
	evaluator.gateURL = reactURL
	evaluator.gate = gate

	var first, second *types.Exports
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		exports, err := l.LoadSharedModule(context.Background(), "react")
		assert.NoError(t, err)
		first = exports
	}()
	require.Eventually(t, func() bool { return evaluator.count(reactURL) == 1 }, time.Second, 5*time.Millisecond)

	// checkout's entry declares react a singleton while the first load is held.
	_, err := l.LoadRemoteModule(t.Context(), "checkout", "./Button")
	require.NoError(t, err)
	require.True(t, l.isSingleton("react"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		exports, err := l.LoadSharedModule(context.Background(), "react")
		assert.NoError(t, err)
		second = exports
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Same(t, first, second)
	assert.Equal(t, 1, evaluator.count(reactURL))
	var reactInstances int
	for _, info := range l.GetLoadedModules() {
		if info.Name == "react" {
			reactInstances++
		}
	}
	assert.Equal(t, 1, reactInstances)
}

func TestLateSingletonPicksTopLevelInstance(t *testing.T) {
	for range 40 {
		l, fetcher, evaluator := newTestLoader(t, Options{})
		fetcher.set(catalogURL, types.RemoteEntry{
			Name: "catalog",
			URL:  catalogURL,
			Metadata: types.RemoteEntryMetadata{
				Exposes: map[string]string{"./Grid": gridURL},
				Shared: map[string]types.SharedPackageConfig{
					"date-fns": {Singleton: true, Version: "3.6.0", URL: dateFnsURL},
				},
				Version: "2.0.1",
			},
		})
		l.SetImportMap(federationImportMap())

		_, err := l.LoadSharedModuleFor(t.Context(), "date-fns", checkoutBase+"Cart.js")
		require.NoError(t, err)
		top, err := l.LoadSharedModule(t.Context(), "date-fns")
		require.NoError(t, err)
		_, err = l.LoadRemoteModule(t.Context(), "catalog", "./Grid")
		require.NoError(t, err)

		for _, referrer := range []string{"", checkoutBase + "Cart.js", "https://cdn.test/catalog/Grid.js"} {
			exports, err := l.LoadSharedModuleFor(t.Context(), "date-fns", referrer)
			require.NoError(t, err)
			require.Same(t, top, exports)
			require.Equal(t, dateFnsURL, exports.String(types.ExportURL))
		}
		require.Equal(t, 2, evaluator.total()-evaluator.count(gridURL))
	}
}

func TestPromoteSharedPrefersTopLevelAddress(t *testing.T) {
	cache := NewCache()
	s := cache.stamp("")
	records := map[string]string{
		sharedURLKey("date-fns", dateFnsOld):              dateFnsOld,
		sharedURLKey("date-fns", dateFnsURL):              dateFnsURL,
		sharedURLKey("date-fns", "https://cdn.test/z.js"): "https://cdn.test/z.js",
	}
	for key, url := range records {
		cache.storeModule(key, "", s, moduleRecord{
			info:    types.ModuleInfo{ID: url, Name: "date-fns", URL: url, Loaded: true},
			exports: types.NewExports(map[string]any{types.ExportURL: url}),
		})
	}

	peek, ok := cache.sharedInstance("date-fns", dateFnsURL)
	require.True(t, ok)
	assert.Equal(t, dateFnsURL, peek.info.URL)
	assert.Equal(t, 3, cache.size())

	promoted, ok := cache.promoteShared("date-fns", dateFnsURL)
	require.True(t, ok)
	assert.Equal(t, dateFnsURL, promoted.info.URL)
	assert.True(t, promoted.info.Singleton)
	assert.Equal(t, 3, cache.size())

	again, ok := cache.promoteShared("date-fns", dateFnsOld)
	require.True(t, ok)
	assert.Same(t, promoted.exports, again.exports)
}

func TestPromoteSharedWithoutTopLevelCopyIsStable(t *testing.T) {
	for range 20 {
		cache := NewCache()
		s := cache.stamp("")
		for _, url := range []string{dateFnsOld, "https://cdn.test/catalog/date-fns.js"} {
			cache.storeModule(sharedURLKey("date-fns", url), "", s, moduleRecord{
				info:    types.ModuleInfo{ID: url, Name: "date-fns", URL: url, Loaded: true},
				exports: types.NewExports(map[string]any{types.ExportURL: url}),
			})
		}
		record, ok := cache.promoteShared("date-fns", dateFnsURL)
		require.True(t, ok)
		require.Equal(t, "https://cdn.test/catalog/date-fns.js", record.info.URL)
	}
}

func TestReinitializeForgetsLearnedSingletons(t *testing.T) {
	l, _, _ := newTestLoader(t, Options{Singletons: []string{"lodash"}})
	l.SetImportMap(federationImportMap())
	require.NoError(t, l.PreloadRemotes(t.Context()))
	require.True(t, l.isSingleton("react"))

	require.NoError(t, l.Reinitialize(t.Context(), ""))
	assert.False(t, l.isSingleton("react"))
	assert.True(t, l.isSingleton("lodash"))

	scoped, err := l.LoadSharedModuleFor(t.Context(), "react", checkoutBase+"Button.js")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/checkout/react.js", scoped.String(types.ExportURL))
}
