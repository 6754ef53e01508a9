package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"esm-federation/internal/adapters"
	"esm-federation/internal/loader"
)

// repoRoot returns the repository root, two levels above this package.
func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(dir, "..", ".."))
}

func fixtureParticipants(t *testing.T) []string {
	t.Helper()
	root := repoRoot(t)
	return []string{
		filepath.Join(root, "fixtures", "shell", "participant.yaml"),
		filepath.Join(root, "fixtures", "checkout", "participant.yaml"),
		filepath.Join(root, "fixtures", "catalog", "participant.yaml"),
	}
}

// hitCounter counts requests per path.
type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func newHitCounter() *hitCounter {
	return &hitCounter{hits: map[string]int{}}
}

func (c *hitCounter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.hits[r.URL.Path]++
		c.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (c *hitCounter) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func newHTTPLoader(t *testing.T) *loader.Loader {
	t.Helper()
	fetcher := adapters.NewHTTPFetchAdapter(5, 1, 10)
	logger := zerolog.Nop()
	l, err := loader.New(loader.Options{
		Fetcher:   fetcher,
		Evaluator: adapters.NewHTTPModuleEvaluator(fetcher),
		Logger:    &logger,
	})
	require.NoError(t, err)
	return l
}
