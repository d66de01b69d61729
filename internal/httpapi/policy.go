package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/antoniostano/piiguard/internal/allowlist"
	"github.com/antoniostano/piiguard/internal/bridge"
	"github.com/antoniostano/piiguard/internal/interceptor"
	"github.com/antoniostano/piiguard/internal/pii"
	"github.com/antoniostano/piiguard/internal/policy"
)

func (s *Server) currentPolicy(r *http.Request) (policy.Policy, error) {
	if m := s.deps.Bus.Current(bridge.PolicyTopic); m.Version > 0 {
		return interceptor.PolicyFromMarker(m, s.logger), nil
	}
	return s.deps.Policies.Load(r.Context())
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.currentPolicy(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "policy_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handlePutPolicy replaces the policy wholesale. Omitted fields take their
// default values.
func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxBodyBytes)))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "policy body is required")
		return
	}
	p, err := policy.Decode(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_policy", err.Error())
		return
	}
	if err := s.deps.Policies.Save(r.Context(), p); err != nil {
		respondError(w, http.StatusInternalServerError, "policy_save_failed", err.Error())
		return
	}
	payload, err := bridge.EncodePayload(p)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "policy_encode_failed", err.Error())
		return
	}
	m := s.deps.Bus.Publish(bridge.PolicyTopic, payload)
	s.logger.Info("policy updated", "version", m.Version, "enabled", p.Enabled)
	respondJSON(w, http.StatusOK, p)
}

type allowlistResponse struct {
	Values []string `json:"values"`
	Added  bool     `json:"added,omitempty"`
}

type allowlistAddRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func (s *Server) handleGetAllowlist(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, allowlistResponse{Values: s.deps.Allowlist.Values()})
}

func (s *Server) handleAddAllowlist(w http.ResponseWriter, r *http.Request) {
	var req allowlistAddRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "kind and value are required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	kind, ok := pii.ParseKind(req.Kind)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_kind", "unknown kind "+req.Kind)
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "value is required")
		return
	}

	added := s.deps.Allowlist.Add(kind, req.Value)
	values := s.deps.Allowlist.Values()
	if added {
		payload, err := allowlist.Encode(values)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "allowlist_encode_failed", err.Error())
			return
		}
		s.deps.Bus.Publish(bridge.AllowlistTopic, payload)
	}
	respondJSON(w, http.StatusOK, allowlistResponse{Values: values, Added: added})
}
