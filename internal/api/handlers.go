package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

func (s *Server) sessionResponse() SessionResponse {
	state := s.session.State()
	return SessionResponse{
		SessionID: s.session.SessionID(),
		State:     string(state),
		Handle:    string(s.session.Handle()),
		Final:     state.IsFinal(),
	}
}

// Snapshot renders the session as JSON for WebSocket clients.
func (s *Server) Snapshot() ([]byte, error) {
	return json.Marshal(s.sessionResponse())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.sessionResponse())
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	status, err := s.session.Status(r.Context())
	if err != nil {
		var ise *cluster.InvalidStateError
		switch {
		case errors.As(err, &ise):
			errorResponse(w, http.StatusConflict, err.Error())
		case errors.Is(err, cluster.ErrUnknownHandle):
			errorResponse(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("describing cluster", "error", err)
			errorResponse(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	jsonResponse(w, http.StatusOK, ClusterResponse{
		Handle:  string(status.Handle),
		State:   status.State,
		Message: status.Message,
		Ready:   status.Ready,
		Gone:    status.Gone,
	})
}
