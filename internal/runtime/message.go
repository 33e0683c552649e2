// Package runtime implements the APEX message plane: per-recipient queues,
// the topology-switch protocol, and the coordinator that guards it with
// dwell/cooldown policy.
package runtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentID identifies a message participant. The set of valid AgentIDs is
// fixed at Router construction.
type AgentID string

// Epoch is the Router-authoritative, monotonically increasing topology
// generation counter. It is never reused.
type Epoch uint64

const (
	// BroadcastRecipient is the sentinel recipient expanded by the Router
	// into one unicast route per known recipient other than the sender.
	BroadcastRecipient AgentID = "BROADCAST"

	// SystemSender is exempt from TopologyGuard's pair validation, used for
	// episode kickoff messages.
	SystemSender AgentID = "system"
)

// DropReason classifies why a Message was never delivered.
type DropReason string

const (
	DropQueueFull         DropReason = "queue_full"
	DropExpired           DropReason = "expired"
	DropInvalidRecipient  DropReason = "invalid_recipient"
	DropMaxAttempts       DropReason = "max_attempts"
	DropTopologyViolation DropReason = "topology_violation"
)

// Message is a mutable value owned exclusively by the Router from a
// successful Route call until it is handed to a receiver via Dequeue.
type Message struct {
	EpisodeID string
	MsgID     string
	Sender    AgentID
	Recipient AgentID
	TopoEpoch Epoch
	Payload   map[string]any

	Attempt     int
	CreatedTS   time.Time
	ExpiresTS   time.Time
	Redelivered bool
	DropReason  *DropReason
}

// DefaultPayloadMaxBytes is the default serialized-payload size guard
// enforced by NewMessage (spec §4.1).
const DefaultPayloadMaxBytes = 512 * 1024

// PayloadTooLargeError is returned by NewMessage when the serialized
// payload exceeds the configured cap.
type PayloadTooLargeError struct {
	Size int
	Cap  int
}

func (e *PayloadTooLargeError) Error() string {
	return "apex/runtime: payload too large"
}

// NewMessage constructs a Message, generating a fresh globally-unique MsgID.
// extRequestID, if non-empty, is stored under payload["ext_request_id"] and
// is never substituted for MsgID (external envelopes may carry their own
// request ids; the Router never trusts them as internal identity).
func NewMessage(episodeID string, sender, recipient AgentID, payload map[string]any, ttl time.Duration, extRequestID string, payloadMaxBytes int) (*Message, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if extRequestID != "" {
		payload["ext_request_id"] = extRequestID
	}

	if payloadMaxBytes <= 0 {
		payloadMaxBytes = DefaultPayloadMaxBytes
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(encoded) > payloadMaxBytes {
		return nil, &PayloadTooLargeError{Size: len(encoded), Cap: payloadMaxBytes}
	}

	now := time.Now()
	msg := &Message{
		EpisodeID: episodeID,
		MsgID:     uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Payload:   payload,
		CreatedTS: now,
	}
	if ttl > 0 {
		msg.ExpiresTS = now.Add(ttl)
	}
	return msg, nil
}

// clone returns a deep-enough copy of msg for per-recipient fan-out: the
// payload map is shared (treated as immutable after construction) but every
// other field is copied so that per-target mutation (epoch stamping,
// drop reason, attempt count) never aliases across recipients. Callers that
// fan a single message out to multiple recipients must overwrite MsgID on
// each clone — a broadcast leg is a distinct message, not a copy of one.
func (m *Message) clone() *Message {
	cp := *m
	return &cp
}

// isExpired reports whether the message's TTL has elapsed as of now.
func (m *Message) isExpired(now time.Time) bool {
	return !m.ExpiresTS.IsZero() && now.After(m.ExpiresTS)
}

func markDrop(m *Message, reason DropReason) {
	r := reason
	m.DropReason = &r
}
