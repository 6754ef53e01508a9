package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"esm-federation/internal/types"
)

const defaultHeartbeat = 15 * time.Second
const clientBuffer = 16

type BroadcasterOptions struct {
	Heartbeat  time.Duration
	Logger     *zerolog.Logger
	Registerer prometheus.Registerer
}

// Broadcaster is the dev-server side of the notification channel: an
// http.Handler streaming every published event to each connected client.
type Broadcaster struct {
	heartbeat time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	clients map[chan types.BuildEvent]struct{}

	published *prometheus.CounterVec
	dropped   prometheus.Counter
	connected prometheus.Gauge
}

func NewBroadcaster(opts BroadcasterOptions) *Broadcaster {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	logger := log.Logger.With().Str("component", "broadcaster").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	b := &Broadcaster{
		heartbeat: heartbeat,
		logger:    logger,
		clients:   map[chan types.BuildEvent]struct{}{},
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esm_federation_build_events_published_total",
				Help: "Number of build events published, by event type.",
			},
			[]string{"event"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "esm_federation_build_events_dropped_total",
				Help: "Number of build events dropped for slow clients.",
			},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "esm_federation_build_event_clients",
				Help: "Number of connected build event clients.",
			},
		),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(b.published, b.dropped, b.connected)
	}
	return b
}

// Publish fans event out without blocking; a client whose buffer is full
// misses it. It returns how many clients received the event.
func (b *Broadcaster) Publish(event types.BuildEvent) int {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.published.WithLabelValues(string(event.Type)).Inc()
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for client := range b.clients {
		select {
		case client <- event:
			delivered++
		default:
			b.dropped.Inc()
		}
	}
	return delivered
}

func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := make(chan types.BuildEvent, clientBuffer)
	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()
	b.connected.Inc()
	defer func() {
		b.mu.Lock()
		delete(b.clients, client)
		b.mu.Unlock()
		b.connected.Dec()
	}()

	if err := writeComment(w, "connected"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writeComment(w, "heartbeat"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-client:
			if err := writeEvent(w, event); err != nil {
				b.logger.Debug().Err(err).Msg("build event client went away")
				return
			}
			flusher.Flush()
		}
	}
}
