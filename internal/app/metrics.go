package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/docsession/internal/event"
	"github.com/dshills/docsession/internal/event/events"
)

// saveMessage is the activity message the session core uses for saves.
const saveMessage = "Saving"

// Metrics exports session activity to Prometheus. It is fed entirely by
// bus subscriptions.
type Metrics struct {
	registry *prometheus.Registry
	now      func() time.Time

	sessionsOpened   prometheus.Counter
	filesCreated     prometheus.Counter
	filesDeleted     prometheus.Counter
	contentChanges   prometheus.Counter
	saves            prometheus.Counter
	savedBytes       prometheus.Counter
	saveDuration     prometheus.Histogram
	activityFailures *prometheus.CounterVec
	stateFlushes     prometheus.Counter
	watchDisconnects prometheus.Counter
	restoredSessions prometheus.Gauge
	droppedSessions  prometheus.Gauge
	sessionSwitches  *prometheus.CounterVec

	mu          sync.Mutex
	saveStarted map[string]time.Time
	subs        []*event.Subscription
}

// NewMetrics registers the docsession collectors on a fresh registry.
func NewMetrics(now func() time.Time) *Metrics {
	if now == nil {
		now = time.Now
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		now:      now,
		sessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_sessions_opened_total",
			Help: "Sessions created from a store read or a new file",
		}),
		filesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_files_created_total",
			Help: "Files created by requests for missing paths",
		}),
		filesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_files_deleted_total",
			Help: "Sessions orphaned because their file was deleted",
		}),
		contentChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_content_changes_total",
			Help: "User edits applied to session buffers",
		}),
		saves: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_saves_total",
			Help: "Successful document writes",
		}),
		savedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_saved_bytes_total",
			Help: "Bytes written by successful saves",
		}),
		saveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsession_save_duration_seconds",
			Help:    "Time from save start to completed write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		activityFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docsession_activity_failures_total",
			Help: "Failed user-visible operations by message",
		}, []string{"message"}),
		stateFlushes: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_state_flushes_total",
			Help: "Session state snapshots written to disk",
		}),
		watchDisconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "docsession_watch_disconnects_total",
			Help: "Change feed disconnect notifications",
		}),
		restoredSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "docsession_restored_sessions",
			Help: "Sessions restored at startup",
		}),
		droppedSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "docsession_dropped_sessions",
			Help: "Saved sessions dropped at startup because they could not be read",
		}),
		sessionSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docsession_session_switches_total",
			Help: "Sessions displayed in a pane by kind",
		}, []string{"kind"}),
		saveStarted: make(map[string]time.Time),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Attach subscribes the collectors to bus. Handlers run synchronously after
// every other subscriber.
func (m *Metrics) Attach(bus *event.Bus) error {
	opts := []event.SubscriptionOption{
		event.WithDeliveryMode(event.DeliverySync),
		event.WithPriority(event.PriorityLow),
	}
	var errs []error
	add := func(sub *event.Subscription, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		m.subs = append(m.subs, sub)
	}

	add(events.Subscribe(bus, events.NewSession, func(context.Context, event.Event[events.NewSessionPayload]) error {
		m.sessionsOpened.Inc()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.FileCreated, func(context.Context, event.Event[events.FileCreatedPayload]) error {
		m.sessionsOpened.Inc()
		m.filesCreated.Inc()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.FileDeleted, func(context.Context, event.Event[events.FileDeletedPayload]) error {
		m.filesDeleted.Inc()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.ContentChanged, func(context.Context, event.Event[events.ContentChangedPayload]) error {
		m.contentChanges.Inc()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.ActivityStarted, func(_ context.Context, ev event.Event[events.ActivityPayload]) error {
		if ev.Payload.Message == saveMessage {
			m.mu.Lock()
			m.saveStarted[ev.Payload.SessionID] = m.now()
			m.mu.Unlock()
		}
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.Saved, func(_ context.Context, ev event.Event[events.SavedPayload]) error {
		m.savedBytes.Add(float64(ev.Payload.Bytes))
		m.saves.Inc()
		m.mu.Lock()
		if start, ok := m.saveStarted[ev.Payload.SessionID]; ok {
			m.saveDuration.Observe(m.now().Sub(start).Seconds())
			delete(m.saveStarted, ev.Payload.SessionID)
		}
		m.mu.Unlock()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.ActivityFailed, func(_ context.Context, ev event.Event[events.ActivityPayload]) error {
		m.activityFailures.WithLabelValues(ev.Payload.Message).Inc()
		m.mu.Lock()
		delete(m.saveStarted, ev.Payload.SessionID)
		m.mu.Unlock()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.StateFlushed, func(context.Context, event.Event[events.StateFlushedPayload]) error {
		m.stateFlushes.Inc()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.WatchDisconnected, func(context.Context, event.Event[events.Subject]) error {
		m.watchDisconnects.Inc()
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.AllRestored, func(_ context.Context, ev event.Event[events.AllRestoredPayload]) error {
		m.restoredSessions.Set(float64(ev.Payload.Restored))
		m.droppedSessions.Set(float64(ev.Payload.Dropped))
		return nil
	}, opts...))
	add(events.Subscribe(bus, events.SessionSwitched, func(_ context.Context, ev event.Event[events.SwitchedPayload]) error {
		kind := "document"
		if ev.Payload.Special {
			kind = "special"
		}
		m.sessionSwitches.WithLabelValues(kind).Inc()
		return nil
	}, opts...))

	return errors.Join(errs...)
}

// Detach removes every subscription made by Attach.
func (m *Metrics) Detach(bus *event.Bus) {
	for _, sub := range m.subs {
		bus.Unsubscribe(sub)
	}
	m.subs = nil
}

// metricsServer serves /metrics until shut down.
type metricsServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

func startMetricsServer(addr string, m *Metrics, logger *slog.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	s := &metricsServer{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound address.
func (s *metricsServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *metricsServer) shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
