package model

import "time"

const NotificationTableName = "notification"

// Notification is a store-and-forward record addressed to one user.
type Notification struct {
	ID        string     `bson:"notification_id" json:"id"`
	UserID    string     `bson:"user_id" json:"userId"`
	Type      string     `bson:"type" json:"type"` // like, comment, friend_request, live ...
	Title     string     `bson:"title" json:"title"`
	Content   string     `bson:"content" json:"content"`
	URL       string     `bson:"url,omitempty" json:"url,omitempty"`
	ActorID   string     `bson:"actor_id,omitempty" json:"actorId,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
	ReadAt    *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`
}

// NotificationInput is what publishers hand in; the store assigns id and time.
type NotificationInput struct {
	Type    string `json:"type" mapstructure:"type"`
	Title   string `json:"title" mapstructure:"title"`
	Content string `json:"content" mapstructure:"content"`
	URL     string `json:"url,omitempty" mapstructure:"url"`
	ActorID string `json:"actorId,omitempty" mapstructure:"actorId"`
}
