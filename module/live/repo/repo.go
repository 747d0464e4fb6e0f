package repo

import (
	"context"

	"PPLive/module/live/model"
)

// Store persists sessions, participants and session events. Implementations
// live in service/storage; every call may fail with a persistence error.
type Store interface {
	CreateSession(ctx context.Context, id, hostID, title string) (*model.Session, error)
	EndSession(ctx context.Context, id string) error
	// GetSession returns errs.ErrRecordNotFound when id is unknown.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	UpsertParticipant(ctx context.Context, sessionID, userID, displayName string, role model.Role) (*model.Participant, error)
	MarkParticipantLeft(ctx context.Context, sessionID, userID string) error
	ListActiveParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error)
	// UpdatePeakParticipants stores max(current peak, count).
	UpdatePeakParticipants(ctx context.Context, sessionID string, count int) error

	AppendMessage(ctx context.Context, sessionID, authorID, content string) (*model.Message, error)
	AppendReaction(ctx context.Context, sessionID, authorID, emoji string) (*model.Reaction, error)
	// ListRecentMessages returns up to limit messages, oldest first.
	ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]*model.Message, error)
	// DeleteMessage soft deletes; only the author may delete.
	DeleteMessage(ctx context.Context, sessionID, messageID, userID string) error
	MarkRead(ctx context.Context, sessionID, userID, messageID string) error
}

// NotificationStore persists per-user notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, userID, typ, title, content, url, actorID string) (string, error)
	ListUnread(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 200
)

// ClampLimit keeps a caller supplied page size within bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}
