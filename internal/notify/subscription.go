// Package notify carries dev-mode build notifications from a remote's dev
// server to running loaders over server-sent events.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

const eventBuffer = 64

// EventHandler observes build events. Handlers run on the subscription's
// reader goroutine and must not block for long.
type EventHandler func(types.BuildEvent)

type SubscriptionOptions struct {
	Client *http.Client
	Logger *zerolog.Logger
	// NewBackOff builds the reconnect policy. It defaults to an unbounded
	// exponential backoff capped at 30s between attempts.
	NewBackOff func() backoff.BackOff
	// Handlers are registered before the first connection attempt.
	Handlers []EventHandler
}

// Subscription is a cancellable stream of build events with its own
// reconnect state. Delivery is at most once: events emitted while
// disconnected, or while Events is full, are lost.
type Subscription struct {
	config     types.BuildNotificationConfig
	client     *http.Client
	logger     zerolog.Logger
	newBackOff func() backoff.BackOff

	events chan types.BuildEvent
	cancel context.CancelFunc
	done   chan struct{}

	connected atomic.Bool
	dropped   atomic.Int64

	mu          sync.Mutex
	handlers    map[int]EventHandler
	nextHandler int
}

// Subscribe connects to config.Endpoint in the background and keeps the
// connection alive until ctx ends or Close is called.
func Subscribe(ctx context.Context, config types.BuildNotificationConfig, opts SubscriptionOptions) (*Subscription, error) {
	if strings.TrimSpace(config.Endpoint) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("build notification endpoint is required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := log.Logger.With().Str("component", "notify").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	newBackOff := opts.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		config:     config,
		client:     client,
		logger:     logger.With().Str("endpoint", config.Endpoint).Logger(),
		newBackOff: newBackOff,
		events:     make(chan types.BuildEvent, eventBuffer),
		cancel:     cancel,
		done:       make(chan struct{}),
		handlers:   map[int]EventHandler{},
	}
	for _, handler := range opts.Handlers {
		s.OnEvent(handler)
	}
	go s.run(runCtx)
	return s, nil
}

func defaultBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0
	return policy
}

// Events yields every delivered event. The channel closes after Close.
func (s *Subscription) Events() <-chan types.BuildEvent {
	return s.events
}

// OnEvent registers a handler and returns its cancel func.
func (s *Subscription) OnEvent(handler EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextHandler
	s.nextHandler++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *Subscription) Connected() bool {
	return s.connected.Load()
}

// Dropped counts events discarded because Events was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops the subscription and waits for its reader to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
	s.client.CloseIdleConnections()
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	policy := s.newBackOff()
	for {
		connected, err := s.stream(ctx)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		if connected {
			policy.Reset()
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Warn().Err(err).Msg("build notifications stopped, reconnect budget exhausted")
			return
		}
		s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("build notification stream lost, reconnecting")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stream holds one connection open and reports whether it ever connected.
func (s *Subscription) stream(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, shared.HTTPStatusError(resp.StatusCode, s.config.Endpoint)
	}
	s.connected.Store(true)
	s.logger.Debug().Msg("build notification stream connected")

	err = readEvents(resp.Body, func(raw rawEvent) bool {
		event, ok := decodeBuildEvent(raw)
		if !ok {
			s.logger.Debug().Str("event", raw.name).Msg("ignoring unknown build notification")
			return true
		}
		if s.config.Wants(event.Type) {
			s.deliver(event)
		}
		return ctx.Err() == nil
	})
	if err == nil {
		err = fmt.Errorf("stream closed by server")
	}
	return true, err
}

func (s *Subscription) deliver(event types.BuildEvent) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	handlers := make([]EventHandler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}
