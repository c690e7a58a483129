package types

import (
	"encoding/json"
	"time"
)

// Envelope is the wrapper every message service response uses.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ReplySnapshot is the inline preview of a replied-to message.
type ReplySnapshot struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	IsDeleted  bool   `json:"isDeleted"`
}

// Message is the wire representation of a feed message. It carries no
// client-side lifecycle state.
type Message struct {
	ID          string         `json:"id"`
	GroupID     string         `json:"groupId"`
	UserID      string         `json:"userId"`
	Content     string         `json:"content"`
	MessageType string         `json:"messageType"`
	ReplyToID   string         `json:"replyToId,omitempty"`
	ReplyTo     *ReplySnapshot `json:"replyTo,omitempty"`
	IsEdited    bool           `json:"isEdited"`
	IsDeleted   bool           `json:"isDeleted"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// MessagePage is a single page of history, newest-last.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor *string   `json:"nextCursor"`
}

// SendMessageRequest is the POST /messages body.
type SendMessageRequest struct {
	Content   string `json:"content"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// SendMessageData is the POST /messages success payload.
type SendMessageData struct {
	Message Message `json:"message"`
}

// Patch actions
const (
	PatchActionEdit   = "edit"
	PatchActionDelete = "delete"
)

// PatchMessageRequest is the PATCH /messages body for edit and delete.
type PatchMessageRequest struct {
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
	Content   string `json:"content,omitempty"`
}

// Member is read-only participant display data.
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// Group is read-only group display data.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}
