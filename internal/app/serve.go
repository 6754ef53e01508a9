package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"esm-federation/internal/notify"
	"esm-federation/internal/types"
)

const (
	EventsPath  = "/__federation/events"
	MetricsPath = "/metrics"
)

// FederationServer serves built artifacts, the build event stream and
// metrics. In dev mode it rebuilds on source changes.
type FederationServer struct {
	Broadcaster *notify.Broadcaster
	Registry    *prometheus.Registry

	service Service
	req     ServeRequest
	handler http.Handler
}

func (s Service) NewServer(req ServeRequest) (*FederationServer, error) {
	req.Dir = strings.TrimSpace(req.Dir)
	if req.Dir == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("artifact directory is required")
	}
	if req.Dev && len(req.ParticipantPaths) == 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("dev mode requires participant files")
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	broadcaster := notify.NewBroadcaster(notify.BroadcasterOptions{
		Heartbeat:  time.Duration(req.HeartbeatSec) * time.Second,
		Registerer: registry,
	})

	mux := http.NewServeMux()
	mux.Handle(EventsPath, broadcaster)
	mux.Handle(MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", withCORS(http.FileServer(http.Dir(req.Dir))))

	return &FederationServer{
		Broadcaster: broadcaster,
		Registry:    registry,
		service:     s,
		req:         req,
		handler:     mux,
	}, nil
}

func (f *FederationServer) Handler() http.Handler {
	return f.handler
}

// Rebuild runs a build of the served participants and publishes its
// progress as build events.
func (f *FederationServer) Rebuild(ctx context.Context) error {
	names := f.participantNames()
	for _, name := range names {
		f.Broadcaster.Publish(types.BuildEvent{Type: types.BuildEventStart, RemoteName: name, Timestamp: f.now()})
	}
	_, err := f.service.Build(ctx, BuildRequest{ParticipantPaths: f.req.ParticipantPaths, OutputDir: f.req.Dir})
	if err != nil {
		if len(names) == 0 {
			names = []string{""}
		}
		for _, name := range names {
			f.Broadcaster.Publish(types.BuildEvent{Type: types.BuildEventError, RemoteName: name, Timestamp: f.now(), Message: err.Error()})
		}
		return err
	}
	for _, name := range names {
		f.Broadcaster.Publish(types.BuildEvent{Type: types.BuildEventComplete, RemoteName: name, Timestamp: f.now()})
	}
	return nil
}

// Run listens on Addr until ctx ends. In dev mode it builds once, then
// rebuilds whenever a participant source changes.
func (f *FederationServer) Run(ctx context.Context) error {
	addr := f.req.Addr
	if strings.TrimSpace(addr) == "" {
		addr = ":8080"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeUnavailable).
			WithMsg("failed to listen on " + addr).
			WithCause(err)
	}
	server := &http.Server{
		Handler:           f.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	log.Ctx(ctx).Info().Str("addr", listener.Addr().String()).Str("dir", f.req.Dir).Bool("dev", f.req.Dev).Msg("serving federation artifacts")

	watchErr := make(chan error, 1)
	if f.req.Dev {
		if err := f.Rebuild(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("initial build failed")
		}
		watcher, err := newSourceWatcher(f.watchDirs(), f.req.Dir, time.Duration(f.req.DebounceMs)*time.Millisecond, func(ctx context.Context, changed []string) {
			log.Ctx(ctx).Info().Strs("changed", changed).Msg("sources changed, rebuilding")
			if err := f.Rebuild(ctx); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("rebuild failed")
			}
		})
		if err != nil {
			_ = server.Close()
			return err
		}
		go func() {
			watchErr <- watcher.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errbuilder.New().
				WithCode(errbuilder.CodeUnavailable).
				WithMsg("federation server stopped").
				WithCause(err)
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
	if f.req.Dev {
		<-watchErr
	}
	return nil
}

func (f *FederationServer) participantNames() []string {
	participants, err := f.service.loadParticipants(f.req.ParticipantPaths)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(participants))
	for _, participant := range participants {
		names = append(names, participant.Name)
	}
	return names
}

// watchDirs lists the directories holding participant files and their
// sources.
func (f *FederationServer) watchDirs() []string {
	dirs := map[string]struct{}{}
	for _, path := range f.req.ParticipantPaths {
		dirs[filepath.Dir(path)] = struct{}{}
		participant, err := f.service.Participants.LoadParticipant(path)
		if err != nil {
			continue
		}
		for _, source := range participant.Exposes {
			dirs[filepath.Dir(source)] = struct{}{}
		}
		for _, config := range participant.Shared {
			if config.Import != "" {
				dirs[filepath.Dir(config.Import)] = struct{}{}
			}
		}
	}
	return sortedKeys(dirs)
}

func (f *FederationServer) now() time.Time {
	if f.service.Clock != nil {
		return f.service.Clock().UTC()
	}
	return time.Now().UTC()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if strings.HasSuffix(r.URL.Path, ".json") {
			w.Header().Set("Cache-Control", "no-cache")
		}
		next.ServeHTTP(w, r)
	})
}
