// Package a2a implements the agent wire protocol: JSON-RPC 2.0 message
// envelopes exchanged with remote agents over HTTP+JSON, plus the agent
// card descriptor used for capability advertisement.
package a2a

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion is advertised on every outgoing call.
	ProtocolVersion = "1.0"

	// MetadataVersionKey is the metadata field carrying the protocol version.
	MetadataVersionKey = "protocolVersion"
)

// ============================================================================
// ENVELOPE - Message exchanged with a remote agent
// ============================================================================

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind discriminates the content type of a message part.
type PartKind string

const (
	PartKindText PartKind = "text"
)

// Part is one typed content part of an envelope.
type Part struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text,omitempty"`
}

// KindMessage is the envelope kind discriminator for messages.
const KindMessage = "message"

// Envelope is the structured message exchanged with a remote agent.
// MessageID is globally unique per envelope instance; ContextID is stable
// for the lifetime of one workflow run.
type Envelope struct {
	MessageID string                 `json:"messageId"`
	ContextID string                 `json:"contextId,omitempty"`
	TaskID    string                 `json:"taskId,omitempty"`
	Role      Role                   `json:"role"`
	Parts     []Part                 `json:"parts"`
	Kind      string                 `json:"kind"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewTextEnvelope creates an envelope with a single text part and a fresh
// message id.
func NewTextEnvelope(role Role, text string) *Envelope {
	return &Envelope{
		MessageID: uuid.New().String(),
		Role:      role,
		Parts:     []Part{{Kind: PartKindText, Text: text}},
		Kind:      KindMessage,
	}
}

// Text returns the concatenated text content of the envelope, in part order.
func (e *Envelope) Text() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range e.Parts {
		if p.Kind == PartKindText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Version returns the protocol version carried in the envelope metadata,
// or the empty string if none was advertised.
func (e *Envelope) Version() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[MetadataVersionKey].(string); ok {
		return v
	}
	return ""
}

// SetMetadata sets a metadata key, allocating the map on first use.
func (e *Envelope) SetMetadata(key string, value interface{}) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
}

// Clone returns a copy of the envelope with its own parts slice and
// metadata map.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	out.Parts = make([]Part, len(e.Parts))
	copy(out.Parts, e.Parts)
	if e.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ============================================================================
// AGENT CARD - Static capability descriptor, loaded at startup
// ============================================================================

// AgentCapabilities describes what an agent endpoint supports.
type AgentCapabilities struct {
	Streaming bool `json:"streaming"`
}

// AgentCard describes a remote agent: identity, endpoint and capabilities.
type AgentCard struct {
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	URL             string            `json:"url"`
	Version         string            `json:"version,omitempty"`
	ProtocolVersion string            `json:"protocolVersion,omitempty"`
	Capabilities    AgentCapabilities `json:"capabilities"`
}
