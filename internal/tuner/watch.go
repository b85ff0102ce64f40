package tuner

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tunerbridge/tunerbridge/internal/restream"
)

// handleWatchM3U resolves the station's current stream URL and redirects
// the client to it, for players that follow an M3U entry rather than
// reading the stream body directly.
func (s *Server) handleWatchM3U(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uri, err := s.Provider.StationStreamURI(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	http.Redirect(w, r, uri, http.StatusTemporaryRedirect)
}

// handleWatch streams the station's live HLS content directly to the
// client as an MPEG-TS byte stream, pacing delivery to real playback time
// via a restream.Session. The request's own context governs the session's
// lifetime, so a client disconnect (context canceled) stops the session.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.Provider.StationStreamURI(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	session := restream.NewSession(id, s.Provider, s.StreamClient)
	reason, err := session.Run(r.Context(), w)

	switch reason {
	case restream.ReasonClientDisconnect, restream.ReasonContextCanceled:
		log.Debug().Str("station", id).Str("reason", reason.String()).Msg("tuner: watch session ended")
	default:
		log.Warn().Str("station", id).Str("reason", reason.String()).Err(err).Msg("tuner: watch session ended")
	}
}
