package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/piiguard/internal/allowlist"
	"github.com/antoniostano/piiguard/internal/bridge"
	"github.com/antoniostano/piiguard/internal/collab"
	"github.com/antoniostano/piiguard/internal/config"
	"github.com/antoniostano/piiguard/internal/detect"
	"github.com/antoniostano/piiguard/internal/editor"
	"github.com/antoniostano/piiguard/internal/interceptor"
	"github.com/antoniostano/piiguard/internal/observability"
	"github.com/antoniostano/piiguard/internal/policy"
	"github.com/antoniostano/piiguard/internal/protocol"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Registry    *editor.Registry
	Hub         *interceptor.Hub
	Connections *Connections
	Bus         *bridge.Bus
	Policies    *policy.Store
	Allowlist   *allowlist.List
	Detector    detect.Detector
	Collab      collab.Dispatcher
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	// StoreMode names the policy store backend for health output.
	StoreMode string
}

type Server struct {
	cfg      config.Config
	deps     Deps
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Collab == nil {
		deps.Collab = collab.Unavailable{}
	}
	if deps.Connections == nil {
		deps.Connections = NewConnections()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/detect", s.handleDetect)

	r.Get("/v1/policy", s.handleGetPolicy)
	r.Put("/v1/policy", s.handlePutPolicy)
	r.Get("/v1/allowlist", s.handleGetAllowlist)
	r.Post("/v1/allowlist", s.handleAddAllowlist)

	r.Post("/v1/surfaces", s.handleAttachSurface)
	r.Get("/v1/surfaces/ws", s.handleSurfaceWS)
	r.Get("/v1/surfaces/{id}", s.handleGetSurface)
	r.Post("/v1/surfaces/{id}/detach", s.handleDetachSurface)

	r.Get("/v1/bridge/ws", s.handleBridgeWS)
	r.Post("/v1/collab/{action}", s.handleCollab)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"store_mode":      s.storeMode(),
		"active_surfaces": s.deps.Registry.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
		"hosts":      s.deps.Hub.Hosts(),
	})
}

func (s *Server) storeMode() string {
	if mode := strings.TrimSpace(s.deps.StoreMode); mode != "" {
		return mode
	}
	return "in-memory"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxBodyBytes)))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SurfaceInput:
		return m.Type, true
	case protocol.SurfaceEvent:
		return m.Type, true
	case protocol.SelectionResponse:
		return m.Type, true
	case protocol.UndoRequest:
		return m.Type, true
	case protocol.BridgePublish:
		return m.Type, true
	case protocol.SurfaceText:
		return m.Type, true
	case protocol.SelectionRequest:
		return m.Type, true
	case protocol.RedactionsApplied:
		return m.Type, true
	case protocol.BridgeNotify:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

func (s *Server) countWS(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := messageTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}
