package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/piiguard/internal/collab"
	"github.com/antoniostano/piiguard/internal/reliability"
)

func (s *Server) handleCollab(w http.ResponseWriter, r *http.Request) {
	action, err := collab.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown_action", err.Error())
		return
	}

	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxBodyBytes)))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(raw) > 0 && !json.Valid(raw) {
		respondError(w, http.StatusBadRequest, "invalid_request", "payload must be JSON")
		return
	}

	out, err := s.deps.Collab.Dispatch(r.Context(), action, json.RawMessage(raw))
	if err != nil {
		var statusErr *reliability.StatusError
		switch {
		case errors.Is(err, collab.ErrUnavailable):
			respondError(w, http.StatusServiceUnavailable, "collab_unavailable", err.Error())
		case errors.As(err, &statusErr):
			respondError(w, http.StatusBadGateway, "collab_status", err.Error())
		default:
			respondError(w, http.StatusBadGateway, "collab_failed", err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	_, _ = w.Write(out)
}
