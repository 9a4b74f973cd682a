package types

import (
	"fmt"
	"time"
)

// RecipientAll is the wildcard recipient. Subscribers registered under it
// receive every message sent on the bus.
const RecipientAll = "*"

// MessageKind discriminates message payloads.
type MessageKind string

const (
	MessageKindStatusUpdate MessageKind = "status_update"
	MessageKindFileDelivery MessageKind = "file_delivery"
)

// StatusUpdatePayload reports producer progress.
type StatusUpdatePayload struct {
	Status      NodeStatus `json:"status"`
	Progress    int        `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	Description string     `json:"description,omitempty"`
}

// FileDeliveryPayload instructs the sandbox to upsert one file at one path.
type FileDeliveryPayload struct {
	FilePath    string `json:"file_path"`
	FileContent string `json:"file_content"`
}

// Message is a single bus message. Exactly one payload field is set and it
// must match Kind. ID and Timestamp are stamped by the coordinator on send;
// messages are immutable afterwards and live in the history forever.
type Message struct {
	ID        string               `json:"id"`
	From      string               `json:"from"`
	To        string               `json:"to"`
	Kind      MessageKind          `json:"kind"`
	Timestamp time.Time            `json:"timestamp"`
	Status    *StatusUpdatePayload `json:"status,omitempty"`
	Delivery  *FileDeliveryPayload `json:"delivery,omitempty"`
}

// StatusMessage builds an unsent status-update message.
func StatusMessage(from, to string, p StatusUpdatePayload) Message {
	return Message{
		From:   from,
		To:     to,
		Kind:   MessageKindStatusUpdate,
		Status: &p,
	}
}

// DeliveryMessage builds an unsent file-delivery message.
func DeliveryMessage(from, to, path, content string) Message {
	return Message{
		From: from,
		To:   to,
		Kind: MessageKindFileDelivery,
		Delivery: &FileDeliveryPayload{
			FilePath:    path,
			FileContent: content,
		},
	}
}

// Validate checks that the payload matches the declared kind.
func (m *Message) Validate() error {
	switch m.Kind {
	case MessageKindStatusUpdate:
		if m.Status == nil {
			return fmt.Errorf("status_update message missing status payload")
		}
		if m.Delivery != nil {
			return fmt.Errorf("status_update message carries delivery payload")
		}
	case MessageKindFileDelivery:
		if m.Delivery == nil {
			return fmt.Errorf("file_delivery message missing delivery payload")
		}
		if m.Status != nil {
			return fmt.Errorf("file_delivery message carries status payload")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// PendingDelivery is one buffered file delivery awaiting a registered
// sandbox consumer.
type PendingDelivery struct {
	FromAgentID string    `json:"from_agent_id"`
	FilePath    string    `json:"file_path"`
	FileContent string    `json:"file_content"`
	QueuedAt    time.Time `json:"queued_at"`
}
