package service

import (
	"time"

	"chatfeed/internal/models"
	"chatfeed/pkg/feedapi/types"
)

var testBase = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func wireMsg(id, userID, content string, at time.Time) types.Message {
	return types.Message{
		ID:          id,
		GroupID:     "group-1",
		UserID:      userID,
		Content:     content,
		MessageType: "text",
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func confirmedMsg(id, userID, content string, at time.Time) models.Message {
	return models.Message{
		ID:          id,
		GroupID:     "group-1",
		UserID:      userID,
		Content:     content,
		MessageType: models.MessageTypeText,
		CreatedAt:   at,
		UpdatedAt:   at,
		Lifecycle:   models.LifecycleConfirmed,
	}
}

func messageIDs(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
