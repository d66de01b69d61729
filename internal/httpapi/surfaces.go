package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/piiguard/internal/controller"
	"github.com/antoniostano/piiguard/internal/editor"
	"github.com/antoniostano/piiguard/internal/protocol"
)

func (s *Server) handleAttachSurface(w http.ResponseWriter, r *http.Request) {
	var req editor.AttachRequest
	if err := s.decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Host = strings.TrimSpace(req.Host)
	if req.Host == "" {
		respondError(w, http.StatusBadRequest, "missing_host", "host is required")
		return
	}
	if strings.TrimSpace(req.SurfaceID) == "" {
		req.SurfaceID = uuid.NewString()
	}

	_, created, err := s.deps.Hub.Attach(newWSSurface(req.SurfaceID), req.Host)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	snap, err := s.deps.Registry.Get(req.SurfaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "surface_not_found", err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, editor.AttachResponse{
		SurfaceID:       snap.ID,
		Host:            snap.Host,
		Created:         created,
		AttachedAt:      snap.AttachedAt,
		InactivityTTLMS: s.deps.Registry.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleDetachSurface(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_surface_id", "missing surface id")
		return
	}
	snap, err := s.deps.Registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "surface_not_found", err.Error())
		return
	}
	s.deps.Registry.Detach(id)
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetSurface(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "surface_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleSurfaceWS binds a websocket client to an attached surface. The
// client streams its buffer and events; the server pushes rewrites, prompts
// and redaction summaries.
func (s *Server) handleSurfaceWS(w http.ResponseWriter, r *http.Request) {
	surfaceID := strings.TrimSpace(r.URL.Query().Get("surface_id"))
	if surfaceID == "" {
		respondError(w, http.StatusBadRequest, "missing_surface_id", "query parameter surface_id is required")
		return
	}
	attached, ok := s.deps.Registry.Surface(surfaceID)
	if !ok {
		respondError(w, http.StatusNotFound, "surface_not_found", editor.ErrNotFound.Error())
		return
	}
	surface, ok := attached.(*wsSurface)
	if !ok {
		respondError(w, http.StatusConflict, "surface_not_remote", "surface is not websocket-backed")
		return
	}
	surfaceCtx, err := s.deps.Registry.Context(surfaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "surface_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.countSurfaceEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(surfaceCtx, cancel)
	defer stop()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, outbound)
	}()

	s.deps.Connections.bind(surface, outbound)
	defer s.deps.Connections.unbind(surface, outbound)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(int64(s.cfg.MaxBodyBytes))
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueError(outbound, surfaceID, "invalid_client_message", err.Error())
			continue
		}
		s.countWS("inbound", parsed)
		if err := s.handleSurfaceMessage(surface, parsed); err != nil {
			s.queueError(outbound, surfaceID, "surface_message_rejected", err.Error())
		}
	}

	cancel()
	<-writerDone
	s.countSurfaceEvent("ws_disconnected")
}

var errForeignSurface = errors.New("message targets another surface")

func (s *Server) handleSurfaceMessage(surface *wsSurface, msg any) error {
	switch m := msg.(type) {
	case protocol.SurfaceInput:
		if m.SurfaceID != surface.id {
			return errForeignSurface
		}
		surface.update(m.Text, m.Caret)
		return s.deps.Hub.HandleEvent(surface.id, controller.EventInput)
	case protocol.SurfaceEvent:
		if m.SurfaceID != surface.id {
			return errForeignSurface
		}
		ev, ok := controller.ParseEvent(m.Event)
		if !ok {
			return errors.New("unknown surface event " + m.Event)
		}
		return s.deps.Hub.HandleEvent(surface.id, ev)
	case protocol.SelectionResponse:
		if !s.deps.Connections.resolve(surface.id, m) {
			return errors.New("no open prompt " + m.PromptID)
		}
		return nil
	case protocol.UndoRequest:
		if m.SurfaceID != surface.id {
			return errForeignSurface
		}
		return s.deps.Hub.Undo(surface.id, m.Token)
	default:
		return errors.New("message not accepted on a surface connection")
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbound <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			s.countWS("outbound", msg)
		}
	}
}

func (s *Server) queueError(outbound chan<- any, surfaceID, code, detail string) {
	select {
	case outbound <- protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SurfaceID: surfaceID,
		Code:      code,
		Source:    "gateway",
		Retryable: false,
		Detail:    detail,
	}:
	default:
		s.logger.Debug("dropped error event, outbound queue full", "surface_id", surfaceID, "code", code)
	}
}

func (s *Server) countSurfaceEvent(event string) {
	if s.metrics != nil {
		s.metrics.SurfaceEvents.WithLabelValues(event).Inc()
	}
}
