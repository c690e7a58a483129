package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lifecycle is the client-side delivery state of a message. It is never
// serialized to the server.
type Lifecycle string

const (
	// LifecycleConfirmed marks a message the server has acknowledged. It is
	// terminal except for server-driven edit/delete updates.
	LifecycleConfirmed Lifecycle = "confirmed"
	// LifecyclePending marks an optimistic message whose request is in flight.
	LifecyclePending Lifecycle = "pending"
	// LifecycleFailed marks an optimistic message whose request failed. The
	// user may retry or discard it.
	LifecycleFailed Lifecycle = "failed"
)

type MessageType string

const (
	MessageTypeText MessageType = "text"
)

// ReplySnapshot is the denormalized preview of a replied-to message, carried
// inline so the preview renders even when the target message is not loaded.
type ReplySnapshot struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	IsDeleted  bool   `json:"isDeleted"`
}

// Message is the central feed entity. IsEdited and IsDeleted are one-way
// flags; deleted messages are tombstoned server-side, not physically removed.
type Message struct {
	ID          string         `json:"id"`
	GroupID     string         `json:"groupId"`
	UserID      string         `json:"userId"`
	Content     string         `json:"content"`
	MessageType MessageType    `json:"messageType"`
	ReplyToID   string         `json:"replyToId,omitempty"`
	ReplyTo     *ReplySnapshot `json:"replyTo,omitempty"`
	IsEdited    bool           `json:"isEdited"`
	IsDeleted   bool           `json:"isDeleted"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`

	Lifecycle Lifecycle `json:"-"`
}

// LocalIDPrefix namespaces client-generated ids. The server never produces
// ids with this prefix, which keeps dedup-by-id correct while an optimistic
// message and its confirmation coexist.
const LocalIDPrefix = "local-"

// NewLocalID returns a fresh id in the local namespace.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id belongs to the client-generated namespace.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// IsConfirmed reports whether the message has been acknowledged by the server.
func (m *Message) IsConfirmed() bool {
	return m.Lifecycle == LifecycleConfirmed
}
