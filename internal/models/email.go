package models

import "time"

// EmailSummary is one normalized message of a folder page.
type EmailSummary struct {
	// ID is the provider-assigned UID.
	ID      uint32   `json:"id"`
	Seq     uint32   `json:"seq"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Subject string   `json:"subject"`
	// MessageID is the Message-ID header without angle brackets.
	MessageID string    `json:"messageId,omitempty"`
	Date      time.Time `json:"date"`
	Flags     []string  `json:"flags"`
	Labels    []string  `json:"labels"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
}

// Pagination describes where a page sits in the live mailbox.
type Pagination struct {
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	Current int  `json:"current"`
	HasMore bool `json:"hasMore"`
}

// PageResult is one bounded slice of a remote folder.
type PageResult struct {
	Success    bool           `json:"success"`
	Emails     []EmailSummary `json:"emails"`
	Pagination Pagination     `json:"pagination"`
}

// Folder pairs a logical folder name with the provider mailbox path it resolves to.
type Folder struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// Source is "special-use", "provider" or "verbatim".
	Source string `json:"source"`
}

// Attachment is an outbound attachment. Content is raw bytes (base64 in JSON).
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// SendRequest is the payload of the send endpoint.
type SendRequest struct {
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Subject     string       `json:"subject"`
	Content     string       `json:"content"`
	HTML        string       `json:"html,omitempty"`
	InReplyTo   string       `json:"inReplyTo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendResult is returned after the SMTP server accepted a message.
type SendResult struct {
	Success        bool   `json:"success"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}
