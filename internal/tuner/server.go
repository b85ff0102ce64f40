// Package tuner serves the tuner-appliance-compatible HTTP surface: device
// discovery, channel lineup, EPG (JSON and XMLTV), an M3U playlist, and the
// live restream endpoint, one listener per composed station Provider.
package tuner

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tunerbridge/tunerbridge/internal/config"
	"github.com/tunerbridge/tunerbridge/internal/credentials"
	"github.com/tunerbridge/tunerbridge/internal/httpclient"
	"github.com/tunerbridge/tunerbridge/internal/station"
)

// Server is one tuner-appliance listener, bound to a single Provider (one
// market, or the Multiplexer representing all of them).
type Server struct {
	Addr         string // host:port this listener binds
	BaseURL      string // externally reachable URL for this listener
	Config       *config.Config
	Provider     station.Provider
	Credentials  *credentials.Credentials
	StreamClient *httpclient.Client
	DeviceID     string
	ServiceUUID  string // full per-market service UUID, used as the device's UDN
}

// Router builds the chi router implementing every documented route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/discover.json", s.handleDiscover)
	r.Get("/lineup_status.json", s.handleLineupStatus)
	r.Post("/lineup.post", s.handleLineupPost)
	r.Get("/lineup.json", s.handleLineupJSON)
	r.Get("/lineup.xml", s.handleLineupXML)
	r.Get("/device.xml", s.handleDeviceXML)
	r.Get("/epg.json", s.handleEPGJSON)
	r.Get("/epg.xml", s.handleEPGXML)
	r.Get("/tuner.m3u", s.handleTunerM3U)
	r.Get("/config", s.handleConfig)
	r.Get("/map.json", s.handleMapJSON)
	r.Get("/watch/{id}.m3u", s.handleWatchM3U)
	r.Get("/watch/{id}", s.handleWatch)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", lw.status).Dur("elapsed", time.Since(start)).Msg("tuner: request")
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Run starts the HTTP listener and blocks until ctx is canceled, then shuts
// down gracefully with a 10s deadline — the lifecycle every background
// component in this process follows.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("baseURL", s.BaseURL).Msg("tuner: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stations, err := s.Provider.Stations(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"loading"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","channels":` + strconv.Itoa(len(stations)) + `}`))
}
