package attendance

import (
	"time"

	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
)

// RequestStatus is the one-way lifecycle of a chat request.
type RequestStatus string

const (
	StatusQueued    RequestStatus = "queued"
	StatusAttending RequestStatus = "attending"
	StatusClosed    RequestStatus = "closed"
)

// OperatorStatus is the operator's own availability flag. It is advisory
// for routing; capacity is enforced by maxChats alone.
type OperatorStatus string

const (
	OperatorAvailable OperatorStatus = "available"
	OperatorBusy      OperatorStatus = "busy"
	OperatorAway      OperatorStatus = "away"
)

// ChatRequest is a conversation waiting for (or owned by) an operator.
type ChatRequest struct {
	ID           string        `json:"id"`
	Phone        string        `json:"phone"`
	LastMessage  string        `json:"lastMessage"`
	Timestamp    time.Time     `json:"timestamp"`
	MessageCount int           `json:"messageCount"`
	Status       RequestStatus `json:"status"`
	OperatorID   string        `json:"operatorId,omitempty"`

	// FirstQueuedAt anchors the response-time calculation.
	FirstQueuedAt time.Time `json:"firstQueuedAt"`
}

// ActiveChat is a conversation currently owned by an operator.
// MessageCount always equals len(Messages).
type ActiveChat struct {
	ID           string                   `json:"id"`
	Phone        string                   `json:"phone"`
	OperatorID   string                   `json:"operatorId"`
	StartTime    time.Time                `json:"startTime"`
	LastActivity time.Time                `json:"lastActivity"`
	MessageCount int                      `json:"messageCount"`
	Messages     []chatv1.MessageEnvelope `json:"messages"`
}

// Operator is a human agent with a bounded number of concurrent chats.
type Operator struct {
	ID       string         `json:"id"`
	Status   OperatorStatus `json:"status"`
	MaxChats int            `json:"maxChats"`
}

// Metrics is a derived snapshot; recomputed on demand, never mutated
// independently.
type Metrics struct {
	QueueCount          int           `json:"queueCount"`
	AttendingCount      int           `json:"attendingCount"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	TotalRequests       int           `json:"totalRequests"`
}
