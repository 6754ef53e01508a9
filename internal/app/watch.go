package app

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 300 * time.Millisecond

// sourceWatcher fires onChange once per burst of filesystem events in the
// watched directories. Events under ignoreDir (the build output) never fire.
type sourceWatcher struct {
	fsw       *fsnotify.Watcher
	ignoreDir string
	debounce  time.Duration
	onChange  func(ctx context.Context, changed []string)
}

func newSourceWatcher(dirs []string, ignoreDir string, debounce time.Duration, onChange func(ctx context.Context, changed []string)) (*sourceWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create file watcher").
			WithCause(err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to watch " + dir).
				WithCause(err)
		}
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	absIgnore, err := filepath.Abs(ignoreDir)
	if err != nil {
		absIgnore = ignoreDir
	}
	return &sourceWatcher{fsw: fsw, ignoreDir: absIgnore, debounce: debounce, onChange: onChange}, nil
}

// Run blocks until ctx ends. A burst arriving while onChange still runs is
// retried after the next debounce window.
func (w *sourceWatcher) Run(ctx context.Context) error {
	var (
		mu      sync.Mutex
		pending = map[string]struct{}{}
		timer   *time.Timer
		running atomic.Bool
	)
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)
		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := make([]string, 0, len(pending))
		for path := range pending {
			changed = append(changed, path)
		}
		clear(pending)
		mu.Unlock()
		sort.Strings(changed)
		w.onChange(ctx, changed)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		_ = w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) || event.Has(fsnotify.Chmod) {
				continue
			}
			mu.Lock()
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Ctx(ctx).Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *sourceWatcher) ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == w.ignoreDir || strings.HasPrefix(abs, w.ignoreDir+string(filepath.Separator))
}
