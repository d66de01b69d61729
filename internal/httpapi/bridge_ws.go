package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/piiguard/internal/bridge"
	"github.com/antoniostano/piiguard/internal/protocol"
)

// handleBridgeWS replicates bridge markers to a remote context. The current
// markers are sent on connect, then every change; bridge_publish messages
// from the client write new values.
func (s *Server) handleBridgeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.deps.Bus.Subscribe(32, bridge.Topics()...)
	defer sub.Close()

	outbound := make(chan any, 64)
	for _, t := range bridge.Topics() {
		if m := s.deps.Bus.Current(t); m.Version > 0 {
			outbound <- notifyMessage(bridge.Notification{Event: t.EventType, Marker: m})
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, outbound)
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-sub.C:
				if !ok {
					return
				}
				select {
				case outbound <- notifyMessage(n):
					s.countBridge(n.Marker.Topic, "sent")
				default:
					s.countBridge(n.Marker.Topic, "drop_full")
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(int64(s.cfg.MaxBodyBytes))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueError(outbound, "", "invalid_client_message", err.Error())
			continue
		}
		s.countWS("inbound", parsed)
		pub, ok := parsed.(protocol.BridgePublish)
		if !ok {
			s.queueError(outbound, "", "unsupported_on_bridge", "only bridge_publish is accepted")
			continue
		}
		topic, err := bridge.TopicByMarker(pub.Topic)
		if err != nil {
			s.queueError(outbound, "", "unknown_topic", err.Error())
			continue
		}
		if _, err := bridge.RawPayload(pub.Payload); err != nil {
			s.countBridge(topic, "invalid")
			s.queueError(outbound, "", "invalid_payload", err.Error())
			continue
		}
		m := s.deps.Bus.Publish(topic, pub.Payload)
		s.countBridge(topic, "published")
		s.logger.Debug("bridge value published remotely", "topic", topic.MarkerID, "version", m.Version)
	}

	cancel()
	<-writerDone
}

func notifyMessage(n bridge.Notification) protocol.BridgeNotify {
	return protocol.BridgeNotify{
		Type:    protocol.TypeBridgeNotify,
		Topic:   n.Marker.Topic.MarkerID,
		Event:   n.Event,
		Epoch:   n.Marker.Epoch,
		Version: n.Marker.Version,
		Payload: n.Marker.Payload,
	}
}

func (s *Server) countBridge(topic bridge.Topic, result string) {
	if s.metrics != nil {
		s.metrics.BridgeNotifications.WithLabelValues(topic.MarkerID, result).Inc()
	}
}
