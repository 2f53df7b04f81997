/*
 * backend/server.go
 *
 * Composition root. Wires the room manager, dispatcher, subscription
 * manager, ingest listener, telemetry and the HTTP surface, and runs them
 * under one errgroup until the context is cancelled.
 */

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spyglass-view/spyglass/backend/dispatch"
	"github.com/spyglass-view/spyglass/backend/ingest"
	"github.com/spyglass-view/spyglass/backend/config"
	"github.com/spyglass-view/spyglass/backend/room"
	"github.com/spyglass-view/spyglass/backend/subscription"
	"github.com/spyglass-view/spyglass/backend/telemetry"
)

// Server is one spyglass instance.
type Server struct {
	logger   *Logger
	rooms    *room.Manager
	recorder *telemetry.Recorder
	subs     *subscription.Manager
	dispatch *dispatch.Dispatcher
	ingest   *ingest.Server
	exporter *telemetry.Exporter
	http     *http.Server

	settingsMu sync.RWMutex
	settings   config.Settings

	watcher *config.Watcher
}

// gaugeSource feeds the Prometheus gauges from live state.
type gaugeSource struct {
	rooms *room.Manager
	subs  *subscription.Manager
}

func (g gaugeSource) RoomCount() int       { return g.rooms.Stats().Rooms }
func (g gaugeSource) ProducerCount() int   { return g.rooms.Stats().Producers }
func (g gaugeSource) SubscriberCount() int { return g.subs.SubscriberCount() }
func (g gaugeSource) EntryCount() int      { return g.rooms.Stats().Entries }

func (g gaugeSource) ActiveTraceCount() int {
	total := 0
	for _, id := range g.rooms.Rooms() {
		if r, ok := g.rooms.Get(id); ok {
			total += r.Traces.ActiveCount()
		}
	}
	return total
}

// NewServer wires a server from resolved settings.
func NewServer(settings config.Settings, logger *Logger) (*Server, error) {
	s := &Server{
		logger:   logger,
		settings: settings,
	}

	s.rooms = room.NewManager(settings.MaxEntries, settings.StreamLimit, settings.TraceTimeout, logger)
	s.recorder = telemetry.NewRecorder()
	s.subs = subscription.NewManager(s.rooms, settings.EntryThrottle, settings.WatchThrottle, s.recorder, logger)
	s.rooms.OnRoomCreated(s.subs.RoomCreated)
	s.dispatch = dispatch.NewDispatcher(s.rooms, s.subs, s.recorder, logger)
	s.ingest = ingest.NewServer(settings.IngestAddr, s.dispatch, logger, s.authSnapshot)
	s.exporter = telemetry.NewExporter(s.recorder, gaugeSource{rooms: s.rooms, subs: s.subs})

	wsHandler, err := subscription.NewHandler(s.subs, logger, s.authSnapshot)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/metrics", s.exporter.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	mux.HandleFunc("/api/logs", s.handleLogs)

	s.http = &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// authSnapshot reads the current auth policy. Consulted once per producer or
// subscriber connection so reloads apply to new sessions.
func (s *Server) authSnapshot() (string, bool) {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings.AuthToken, s.settings.AuthRequired
}

// Run serves until ctx is cancelled, then shuts everything down in order:
// listeners first, then the dispatcher, then the fan-out side.
func (s *Server) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	if s.settings.File != "" {
		watcher, err := config.NewWatcher(s.settings.File, s.applySettings, func(err error) {
			s.logger.Warn(fmt.Sprintf("settings reload failed: %v", err), "Server")
		})
		if err != nil {
			s.logger.Warn(fmt.Sprintf("settings watcher unavailable: %v", err), "Server")
		} else {
			s.watcher = watcher
		}
	}

	group.Go(func() error {
		return s.ingest.Serve(ctx)
	})

	group.Go(func() error {
		s.logger.Info(fmt.Sprintf("http listening on %s", s.http.Addr), "Server")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		s.recorder.Run(ctx.Done(), config.MetricsInterval)
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(config.TraceSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if moved := s.rooms.SweepTraces(now); moved > 0 {
					s.logger.Debug(fmt.Sprintf("swept %d silent traces to completed", moved), "Server")
				}
			}
		}
	})

	err := group.Wait()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.dispatch.Stop()
	s.subs.Stop()
	s.logger.Info("server stopped", "Server")
	return err
}

// applySettings pushes a reloaded settings file onto the running server.
// Listen addresses are fixed for the process lifetime; everything else
// takes effect immediately or on the next producer connection.
func (s *Server) applySettings(next config.Settings) {
	s.settingsMu.Lock()
	prev := s.settings
	next.HTTPAddr = prev.HTTPAddr
	next.IngestAddr = prev.IngestAddr
	s.settings = next
	s.settingsMu.Unlock()

	if next.MaxEntries != prev.MaxEntries || next.StreamLimit != prev.StreamLimit {
		s.rooms.SetLimits(next.MaxEntries, next.StreamLimit)
	}
	if next.TraceTimeout != prev.TraceTimeout {
		s.rooms.SetTraceTimeout(next.TraceTimeout)
	}
	if next.EntryThrottle != prev.EntryThrottle || next.WatchThrottle != prev.WatchThrottle {
		s.subs.SetIntervals(next.EntryThrottle, next.WatchThrottle)
	}
	s.logger.Info("settings reloaded", "Server")
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rooms.RoomsInfo())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rooms.Stats())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger.Lines())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
