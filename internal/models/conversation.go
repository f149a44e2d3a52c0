package models

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Direction tells whether a conversation message was sent or received.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Conversation is a locally persisted thread keyed by a derived conversation id.
type Conversation struct {
	ID             string                `json:"-"`
	UserID         string                `json:"-"`
	ConversationID string                `json:"conversationId"`
	Participants   []string              `json:"participants"`
	Subject        string                `json:"subject"`
	Status         ConversationStatus    `json:"status"`
	LastMessageAt  time.Time             `json:"lastMessageAt"`
	Messages       []ConversationMessage `json:"messages,omitempty"`
}

// ConversationMessage is one message appended to a conversation.
type ConversationMessage struct {
	ID string `json:"id"`
	// ExternalID is the idempotency key of externally sourced mail, empty for
	// locally composed messages.
	ExternalID      string    `json:"externalId,omitempty"`
	Direction       Direction `json:"direction"`
	From            string    `json:"from"`
	To              []string  `json:"to"`
	Subject         string    `json:"subject"`
	Content         string    `json:"content"`
	MessageIDHeader string    `json:"messageIdHeader,omitempty"`
	SentAt          time.Time `json:"sentAt"`
}

// ConversationsResponse is a page of conversations.
type ConversationsResponse struct {
	Conversations []*Conversation `json:"conversations"`
	Pagination    Pagination      `json:"pagination"`
}
