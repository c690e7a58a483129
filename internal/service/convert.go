package service

import (
	"context"
	"time"

	"chatfeed/internal/models"
	"chatfeed/pkg/feedapi/types"
)

// MessageCache is the optional persistence layer behind the store. A nil
// cache disables local persistence; failures are logged, never surfaced.
type MessageCache interface {
	SaveMessages(ctx context.Context, messages []models.Message) error
	RecentMessages(ctx context.Context, groupID string, limit int) ([]models.Message, error)
}

// cachePruner is the optional retention hook a cache may expose. The engine
// prunes on start when the cache supports it and retention is configured.
type cachePruner interface {
	PruneBefore(ctx context.Context, groupID string, cutoff time.Time) (int64, error)
}

// baselineAdvancer is what the history loader and dispatcher need from the
// poll engine: moving the "since" cursor forward when they learn of newer
// confirmed messages.
type baselineAdvancer interface {
	AdvanceBaseline(t time.Time)
}

// fromWire converts a server message into the domain entity, tagged
// Confirmed. Lifecycle exists only on the client side.
func fromWire(m types.Message) models.Message {
	msg := models.Message{
		ID:          m.ID,
		GroupID:     m.GroupID,
		UserID:      m.UserID,
		Content:     m.Content,
		MessageType: models.MessageType(m.MessageType),
		ReplyToID:   m.ReplyToID,
		IsEdited:    m.IsEdited,
		IsDeleted:   m.IsDeleted,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Lifecycle:   models.LifecycleConfirmed,
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = &models.ReplySnapshot{
			ID:         m.ReplyTo.ID,
			Content:    m.ReplyTo.Content,
			AuthorName: m.ReplyTo.AuthorName,
			IsDeleted:  m.ReplyTo.IsDeleted,
		}
	}
	return msg
}

func fromWireBatch(in []types.Message) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, m := range in {
		out = append(out, fromWire(m))
	}
	return out
}

func fromWireGroup(g *types.Group) *models.Group {
	if g == nil {
		return nil
	}
	group := &models.Group{
		ID:      g.ID,
		Name:    g.Name,
		Members: make([]models.Member, 0, len(g.Members)),
	}
	for _, m := range g.Members {
		group.Members = append(group.Members, models.Member{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Role:        m.Role,
		})
	}
	return group
}
