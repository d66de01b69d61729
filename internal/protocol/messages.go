package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/antoniostano/piiguard/internal/token"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSurfaceInput      MessageType = "surface_input"
	TypeSurfaceEvent      MessageType = "surface_event"
	TypeSelectionResponse MessageType = "selection_response"
	TypeUndoRequest       MessageType = "undo_request"
	TypeBridgePublish     MessageType = "bridge_publish"

	TypeSurfaceText       MessageType = "surface_text"
	TypeSelectionRequest  MessageType = "selection_request"
	TypeRedactionsApplied MessageType = "redactions_applied"
	TypeBridgeNotify      MessageType = "bridge_notify"
	TypeErrorEvent        MessageType = "error_event"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

//go:embed schema/client.json
var clientSchemaJSON []byte

const clientSchemaURL = "piiguard://schema/client.json"

var clientSchema = compileClientSchema()

func compileClientSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(clientSchemaURL, bytes.NewReader(clientSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add client schema: %v", err))
	}
	schema, err := compiler.Compile(clientSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile client schema: %v", err))
	}
	return schema
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// SurfaceInput carries the full buffer of a remote surface after an edit.
type SurfaceInput struct {
	Type      MessageType `json:"type"`
	SurfaceID string      `json:"surface_id"`
	Text      string      `json:"text"`
	Caret     int         `json:"caret"`
}

// SurfaceEvent is a focus, paste, submit or IME event without a text change.
type SurfaceEvent struct {
	Type      MessageType `json:"type"`
	SurfaceID string      `json:"surface_id"`
	Event     string      `json:"event"`
}

type SelectionResponse struct {
	Type     MessageType `json:"type"`
	PromptID string      `json:"prompt_id"`
	Selected []int       `json:"selected"`
	Remember bool        `json:"remember"`
}

type UndoRequest struct {
	Type      MessageType `json:"type"`
	SurfaceID string      `json:"surface_id"`
	Token     string      `json:"token"`
}

type BridgePublish struct {
	Type    MessageType `json:"type"`
	Topic   string      `json:"topic"`
	Payload string      `json:"payload"`
}

// SurfaceText asks the client to replace its buffer.
type SurfaceText struct {
	Type      MessageType `json:"type"`
	SurfaceID string      `json:"surface_id"`
	Text      string      `json:"text"`
	Caret     int         `json:"caret"`
}

type PromptCandidate struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type PromptGroup struct {
	Kind       string            `json:"kind"`
	Candidates []PromptCandidate `json:"candidates"`
}

type SelectionRequest struct {
	Type      MessageType   `json:"type"`
	PromptID  string        `json:"prompt_id"`
	SurfaceID string        `json:"surface_id"`
	Groups    []PromptGroup `json:"groups"`
}

// RedactionsApplied is the HUD payload: the active redactions of a surface
// with a per-kind count.
type RedactionsApplied struct {
	Type       MessageType       `json:"type"`
	SurfaceID  string            `json:"surface_id"`
	Redactions []token.Redaction `json:"redactions"`
	Counts     map[string]int    `json:"counts"`
	UserAction bool              `json:"user_action"`
}

type BridgeNotify struct {
	Type    MessageType `json:"type"`
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Epoch   string      `json:"epoch,omitempty"`
	Version uint64      `json:"version"`
	Payload string      `json:"payload"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SurfaceID string      `json:"surface_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage validates raw against the client schema and decodes it
// into its concrete type.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSurfaceInput, TypeSurfaceEvent, TypeSelectionResponse, TypeUndoRequest, TypeBridgePublish:
	default:
		return nil, ErrUnsupportedType
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if err := clientSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}

	switch env.Type {
	case TypeSurfaceInput:
		msg := SurfaceInput{Caret: -1}
		return decode(raw, msg)
	case TypeSurfaceEvent:
		return decode(raw, SurfaceEvent{})
	case TypeSelectionResponse:
		return decode(raw, SelectionResponse{})
	case TypeUndoRequest:
		return decode(raw, UndoRequest{})
	default:
		return decode(raw, BridgePublish{})
	}
}

func decode[T any](raw []byte, msg T) (any, error) {
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseServerMessage decodes a server-to-client message, for Go clients.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	switch env.Type {
	case TypeSurfaceText:
		return decode(raw, SurfaceText{})
	case TypeSelectionRequest:
		return decode(raw, SelectionRequest{})
	case TypeRedactionsApplied:
		return decode(raw, RedactionsApplied{})
	case TypeBridgeNotify:
		return decode(raw, BridgeNotify{})
	case TypeErrorEvent:
		return decode(raw, ErrorEvent{})
	default:
		return nil, ErrUnsupportedType
	}
}
