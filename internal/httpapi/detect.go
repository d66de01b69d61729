package httpapi

import (
	"errors"
	"net/http"

	"github.com/antoniostano/piiguard/internal/detect"
	"github.com/antoniostano/piiguard/internal/pii"
)

// handleDetect serves the remote detector contract with the local matcher,
// so one instance can act as another's detection endpoint.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detect.Request
	if err := s.decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entities, err := s.deps.Detector.Detect(r.Context(), req.Text)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "detect_failed", err.Error())
		return
	}
	if entities == nil {
		entities = []pii.Entity{}
	}
	respondJSON(w, http.StatusOK, detect.Response{Entities: entities})
}
