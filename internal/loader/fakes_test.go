package loader

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"esm-federation/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errUnreachable = errors.New("unreachable")

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]any
	fail  map[string]error
	calls map[string]int
	gate  chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{docs: map[string]any{}, fail: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) FetchJSON(ctx context.Context, url string, out any) error {
	f.mu.Lock()
	f.calls[url]++
	gate := f.gate
	doc, ok := f.docs[url]
	failure := f.fail[url]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if failure != nil {
		return failure
	}
	if !ok {
		return errUnreachable
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeFetcher) set(url string, doc any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[url] = doc
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

type fakeEvaluator struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
	gate  chan struct{}
	// gateURL limits gate to one address when set.
	gateURL string
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{fail: map[string]error{}, calls: map[string]int{}}
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, url string) (*types.Exports, error) {
	e.mu.Lock()
	e.calls[url]++
	gate := e.gate
	if e.gateURL != "" && e.gateURL != url {
		gate = nil
	}
	failure := e.fail[url]
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if failure != nil {
		return nil, failure
	}
	return types.NewExports(map[string]any{types.ExportURL: url}), nil
}

func (e *fakeEvaluator) setFailure(url string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.fail, url)
		return
	}
	e.fail[url] = err
}

func (e *fakeEvaluator) count(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[url]
}

func (e *fakeEvaluator) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, n := range e.calls {
		total += n
	}
	return total
}

const (
	manifestURL  = "https://host.test/federation.manifest.json"
	checkoutURL  = "https://cdn.test/checkout/remoteEntry.json"
	catalogURL   = "https://cdn.test/catalog/remoteEntry.json"
	buttonURL    = "https://cdn.test/checkout/Button.js"
	cartURL      = "https://cdn.test/checkout/Cart.js"
	gridURL      = "https://cdn.test/catalog/Grid.js"
	reactURL     = "https://cdn.test/shell/react.js"
	dateFnsURL   = "https://cdn.test/shell/date-fns.js"
	dateFnsOld   = "https://cdn.test/checkout/date-fns.js"
	checkoutBase = "https://cdn.test/checkout/"
)

// federation publishes a manifest with checkout and catalog remotes.
func federation(f *fakeFetcher) {
	f.set(manifestURL, types.FederationManifest{
		"checkout": checkoutURL,
		"catalog":  catalogURL,
	})
	f.set(checkoutURL, types.RemoteEntry{
		Name: "checkout",
		URL:  checkoutURL,
		Metadata: types.RemoteEntryMetadata{
			Exposes: map[string]string{"./Button": buttonURL, "./Cart": "Cart.js"},
			Shared: map[string]types.SharedPackageConfig{
				"react": {Singleton: true, RequiredVersion: "^18.2.0", Version: "18.2.0", URL: reactURL},
			},
			Version: "1.4.0",
		},
	})
	f.set(catalogURL, types.RemoteEntry{
		Name: "catalog",
		URL:  catalogURL,
		Metadata: types.RemoteEntryMetadata{
			Exposes: map[string]string{"./Grid": gridURL},
			Version: "2.0.1",
		},
	})
}
