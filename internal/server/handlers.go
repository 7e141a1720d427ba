package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/seeker/internal/classify"
	"github.com/woozymasta/seeker/internal/entity"
	"github.com/woozymasta/seeker/internal/ingest"
	"github.com/woozymasta/seeker/internal/models"
	"github.com/woozymasta/seeker/internal/storage"
	"github.com/woozymasta/seeker/internal/vars"
)

// statusResponse acknowledges an accepted or skipped observation.
type statusResponse struct {
	Status string `json:"status"`
	Server string `json:"server,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleObservation accepts one observation. By default it is queued for the
// worker pool; with ?sync=true it is merged before responding and the stored
// view of the server is returned.
func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var obs ingest.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		log.Debug().Err(err).Str("ip", GetRealIP(r, s.trustProxy)).Msg("Invalid observation JSON")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := obs.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
		s.processObservation(w, r, obs)
		return
	}

	status, code := s.submit(obs)
	writeJSON(w, code, status)
}

func (s *Server) processObservation(w http.ResponseWriter, r *http.Request, obs ingest.Observation) {
	server, err := s.intake.Process(r.Context(), obs)
	if err != nil {
		var me *entity.MalformedError
		if errors.As(err, &me) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		log.Error().Err(err).Str("server", obs.Key()).Msg("Failed to store observation")
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	// Respond with the merged record, not just this observation
	if stored, err := s.store.GetServer(r.Context(), server.Address, server.Port); err == nil && stored != nil {
		server = stored
	}

	writeJSON(w, http.StatusOK, entity.ToAPI(server))
}

// submit queues obs and maps the outcome to a response body and HTTP status.
func (s *Server) submit(obs ingest.Observation) (statusResponse, int) {
	resp := statusResponse{Server: obs.Key()}

	err := s.intake.Submit(obs)
	switch {
	case err == nil:
		resp.Status = "queued"
		return resp, http.StatusAccepted
	case errors.Is(err, ingest.ErrThrottled):
		resp.Status = "throttled"
		return resp, http.StatusOK
	case errors.Is(err, ingest.ErrInvalid):
		resp.Status = "rejected"
		resp.Error = err.Error()
		return resp, http.StatusBadRequest
	default:
		resp.Status = "rejected"
		resp.Error = err.Error()
		return resp, http.StatusServiceUnavailable
	}
}

// handleGetServer returns one stored server in the external API shape.
// Query params: ?address=1.2.3.4&port=25565
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	portStr := r.URL.Query().Get("port")

	if address == "" || portStr == "" {
		writeError(w, http.StatusBadRequest, "missing address or port")
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}

	server, err := s.store.GetServer(r.Context(), address, port)
	if err != nil {
		log.Error().Err(err).Str("address", address).Int("port", port).Msg("Failed to fetch server")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if server == nil {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}

	writeJSON(w, http.StatusOK, entity.ToAPI(server))
}

// handleListServers returns recently seen servers, newest first.
// Query params: ?limit=100&type=PAPER&release=>=1.20,<1.21
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := s.listLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit <= 0 || n < limit {
			limit = n
		}
	}

	var constraint version.Constraints
	if v := q.Get("release"); v != "" {
		c, err := version.NewConstraint(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid release constraint")
			return
		}
		constraint = c
	}

	var typ models.ServerType
	if v := q.Get("type"); v != "" {
		typ = models.ServerType(strings.ToUpper(v))
		if !typ.Valid() {
			writeError(w, http.StatusBadRequest, "unknown server type")
			return
		}
	}

	// Filters run in memory, so they need the full set
	fetch := limit
	if constraint != nil || typ != "" {
		fetch = 0
	}

	servers, err := s.store.ListServers(r.Context(), fetch)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list servers")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]entity.APIServer, 0, len(servers))
	for _, srv := range servers {
		if limit > 0 && len(out) >= limit {
			break
		}
		if typ != "" && srv.Type != typ {
			continue
		}
		if constraint != nil && !matchRelease(srv, constraint) {
			continue
		}
		out = append(out, entity.ToAPI(srv))
	}

	writeJSON(w, http.StatusOK, out)
}

func matchRelease(s *models.Server, c version.Constraints) bool {
	if s.Version == nil {
		return false
	}
	rel := classify.Release(*s.Version)
	return rel != nil && c.Check(rel)
}

// statsResponse combines stored totals with live pipeline counters.
type statsResponse struct {
	Storage *storage.Stats  `json:"storage"`
	Ingest  ingest.Counters `json:"ingest"`
	Queue   int             `json:"queue"`
}

// handleStats returns aggregate storage and ingestion statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch stats")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Storage: st,
		Ingest:  s.intake.Counters(),
		Queue:   s.intake.QueueLen(),
	})
}

// handleVersion returns build information. It is not protected.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
