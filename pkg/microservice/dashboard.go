package microservice

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
)

// PollSource is the read side of a poll.Registry.
type PollSource interface {
	Statuses() []poll.Status
	Lookup(handle uuid.UUID) (poll.Polled, bool)
}

// Refresher refreshes every registered item. *poll.Scheduler satisfies it.
type Refresher interface {
	RefreshAll() int
}

// DashboardServer exposes the poll registry over HTTP:
//
//	GET  /api/polls                   status of every item, sorted by name
//	GET  /api/polls/{handle}          status of one item
//	POST /api/polls/refresh           refresh every item
//	POST /api/polls/{handle}/refresh  refresh one item
//	POST /api/polls/{handle}/clear    drop one item's cached value
//
// Refreshes are fire-and-forget; the response does not wait for the fetch.
type DashboardServer struct {
	*BaseServer
	polls     PollSource
	refresher Refresher
	logger    zerolog.Logger
}

// NewDashboardServer creates the server and registers its routes.
func NewDashboardServer(logger zerolog.Logger, httpPort string, polls PollSource, refresher Refresher) (*DashboardServer, error) {
	if polls == nil {
		return nil, errors.New("poll source cannot be nil")
	}
	if refresher == nil {
		return nil, errors.New("refresher cannot be nil")
	}
	s := &DashboardServer{
		BaseServer: NewBaseServer(logger, httpPort),
		polls:      polls,
		refresher:  refresher,
		logger:     logger.With().Str("component", "DashboardServer").Logger(),
	}

	mux := s.Mux()
	mux.HandleFunc("GET /api/polls", s.handleList)
	mux.HandleFunc("GET /api/polls/{handle}", s.handleGet)
	mux.HandleFunc("POST /api/polls/refresh", s.handleRefreshAll)
	mux.HandleFunc("POST /api/polls/{handle}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/polls/{handle}/clear", s.handleClear)
	return s, nil
}

func (s *DashboardServer) handleList(w http.ResponseWriter, r *http.Request) {
	statuses := s.polls.Statuses()
	if r.URL.Query().Get("failing") == "true" {
		failing := statuses[:0]
		for _, st := range statuses {
			if st.Failing() {
				failing = append(failing, st)
			}
		}
		statuses = failing
	}
	if statuses == nil {
		statuses = []poll.Status{}
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *DashboardServer) handleGet(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, item.Status())
}

func (s *DashboardServer) handleRefreshAll(w http.ResponseWriter, _ *http.Request) {
	n := s.refresher.RefreshAll()
	s.logger.Info().Int("triggered", n).Msg("Refresh of all items requested.")
	s.writeJSON(w, http.StatusAccepted, map[string]int{"triggered": n})
}

func (s *DashboardServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookup(w, r)
	if !ok {
		return
	}
	item.Refresh()
	s.logger.Info().Str("item", item.Name()).Msg("Refresh requested.")
	s.writeJSON(w, http.StatusAccepted, item.Status())
}

func (s *DashboardServer) handleClear(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookup(w, r)
	if !ok {
		return
	}
	item.ForceClear()
	s.logger.Info().Str("item", item.Name()).Msg("Cached value cleared.")
	s.writeJSON(w, http.StatusOK, item.Status())
}

// lookup resolves the {handle} path value, writing the error response itself
// when it cannot.
func (s *DashboardServer) lookup(w http.ResponseWriter, r *http.Request) (poll.Polled, bool) {
	handle, err := uuid.Parse(r.PathValue("handle"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid handle")
		return nil, false
	}
	item, ok := s.polls.Lookup(handle)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no item with handle "+handle.String())
		return nil, false
	}
	return item, true
}

func (s *DashboardServer) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response.")
	}
}

func (s *DashboardServer) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
