package ws

import (
	"time"
)

type EventType string

const (
	EventSyncRequest    EventType = "sync_request"
	EventMarkRead       EventType = "mark_read"
	EventSyncStarted    EventType = "sync_started"
	EventSyncCompleted  EventType = "sync_completed"
	EventSyncFailed     EventType = "sync_failed"
	EventMessageCreated EventType = "message_created"
	EventError          EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// For mark_read
	MessageIDs []string `json:"message_ids,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type        EventType `json:"type"`
	PartitionID string    `json:"partition_id,omitempty"`
	Payload     any       `json:"payload,omitempty"`
}

// SyncFailedPayload is broadcast when a sync pass fails.
type SyncFailedPayload struct {
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// MarkReadPayload confirms ids marked read by one client to the other clients of the partition.
type MarkReadPayload struct {
	MessageIDs []string `json:"message_ids"`
}
