// Package bridge replicates small pieces of state (the allowlist, the policy)
// to execution contexts that share no memory with the writer. Every topic has
// a persistent marker holding the latest value and a broadcast notification
// fired on each change; readers that miss a notification still see the latest
// marker on their next read.
package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names a replicated value by its marker id and change event.
type Topic struct {
	MarkerID  string `json:"marker_id"`
	EventType string `json:"event_type"`
	Attribute string `json:"attribute"`
}

var (
	AllowlistTopic = Topic{MarkerID: "__PII_ALLOW_META__", EventType: "__PII_ALLOW_CHANGED__", Attribute: "data-allow"}
	PolicyTopic    = Topic{MarkerID: "__PII_POLICY_META__", EventType: "__PII_POLICY_CHANGED__", Attribute: "data-policy"}
)

var ErrUnknownTopic = errors.New("unknown bridge topic")

// Topics lists every known topic.
func Topics() []Topic {
	return []Topic{AllowlistTopic, PolicyTopic}
}

// TopicByMarker resolves a marker id.
func TopicByMarker(markerID string) (Topic, error) {
	for _, t := range Topics() {
		if t.MarkerID == markerID {
			return t, nil
		}
	}
	return Topic{}, fmt.Errorf("%w: %q", ErrUnknownTopic, markerID)
}

// Marker is the persistent, always-readable value of a topic. Payload is
// base64 of UTF-8 JSON. Version 0 means nothing was published yet. Versions
// only order markers of the same Epoch; every Bus starts a new epoch.
type Marker struct {
	Topic     Topic     `json:"topic"`
	Epoch     string    `json:"epoch,omitempty"`
	Version   uint64    `json:"version"`
	Payload   string    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification is broadcast after a marker changes.
type Notification struct {
	Event  string `json:"event"`
	Marker Marker `json:"marker"`
}

// Replica is the read side every context holds.
type Replica interface {
	Current(topic Topic) Marker
}

// Publisher is the write side.
type Publisher interface {
	Publish(topic Topic, payload string) Marker
}

// EncodePayload serializes v as base64 of its JSON encoding.
func EncodePayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal bridge payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// RawPayload returns the JSON bytes carried by payload.
func RawPayload(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode bridge payload: %w", err)
	}
	return raw, nil
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(payload string, v any) error {
	raw, err := RawPayload(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal bridge payload: %w", err)
	}
	return nil
}

// Subscription receives notifications for its topics until closed.
type Subscription struct {
	C <-chan Notification

	bus    *Bus
	id     uint64
	ch     chan Notification
	topics map[string]struct{}
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.id)
	})
}

// Bus is the in-process marker store and broadcaster.
type Bus struct {
	epoch string

	mu      sync.RWMutex
	markers map[string]Marker
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped func(topic Topic)
}

func NewBus() *Bus {
	return &Bus{
		epoch:   uuid.NewString(),
		markers: make(map[string]Marker),
		subs:    make(map[uint64]*Subscription),
	}
}

// Epoch identifies this bus instance.
func (b *Bus) Epoch() string {
	return b.epoch
}

// SetDropHook observes notifications dropped for slow subscribers.
func (b *Bus) SetDropHook(hook func(topic Topic)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = hook
}

// Publish rewrites the marker then notifies subscribers without waiting.
func (b *Bus) Publish(topic Topic, payload string) Marker {
	b.mu.Lock()
	prev := b.markers[topic.MarkerID]
	m := Marker{
		Topic:     topic,
		Epoch:     b.epoch,
		Version:   prev.Version + 1,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	b.markers[topic.MarkerID] = m

	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if _, ok := s.topics[topic.MarkerID]; ok {
			targets = append(targets, s)
		}
	}
	hook := b.dropped
	n := Notification{Event: topic.EventType, Marker: m}
	drops := 0
	for _, s := range targets {
		select {
		case s.ch <- n:
		default:
			drops++
		}
	}
	b.mu.Unlock()

	if hook != nil {
		for i := 0; i < drops; i++ {
			hook(topic)
		}
	}
	return m
}

// Mirror installs a marker produced elsewhere, keeping its epoch and version.
// Within one epoch markers not newer than the local copy are ignored; a marker
// from another epoch (a restarted writer) always replaces the local copy. It
// reports whether m was applied.
func (b *Bus) Mirror(m Marker) bool {
	b.mu.Lock()
	if prev, ok := b.markers[m.Topic.MarkerID]; ok && prev.Epoch == m.Epoch && prev.Version >= m.Version {
		b.mu.Unlock()
		return false
	}
	b.markers[m.Topic.MarkerID] = m
	n := Notification{Event: m.Topic.EventType, Marker: m}
	for _, s := range b.subs {
		if _, ok := s.topics[m.Topic.MarkerID]; !ok {
			continue
		}
		select {
		case s.ch <- n:
		default:
		}
	}
	b.mu.Unlock()
	return true
}

// Current reads the marker. It never blocks on subscribers.
func (b *Bus) Current(topic Topic) Marker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if m, ok := b.markers[topic.MarkerID]; ok {
		return m
	}
	return Marker{Topic: topic}
}

// Subscribe registers for notifications on topics. A full buffer drops
// notifications rather than blocking the writer.
func (b *Bus) Subscribe(buffer int, topics ...Topic) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t.MarkerID] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{C: ch, bus: b, id: b.nextID, ch: ch, topics: set}
	b.subs[s.id] = s
	return s
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}
