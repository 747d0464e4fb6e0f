package model

import "time"

// Message is a durably stored chat message.
type Message struct {
	ID        string     `bson:"message_id" json:"id"`
	SessionID string     `bson:"session_id" json:"sessionId"`
	AuthorID  string     `bson:"author_id" json:"authorId"`
	Content   string     `bson:"content" json:"content"`
	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
}

type Reaction struct {
	ID        string    `bson:"reaction_id" json:"id"`
	SessionID string    `bson:"session_id" json:"sessionId"`
	AuthorID  string    `bson:"author_id" json:"authorId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// ReadMarker records the last message a user has read in a session.
type ReadMarker struct {
	SessionID string    `bson:"session_id" json:"sessionId"`
	UserID    string    `bson:"user_id" json:"userId"`
	MessageID string    `bson:"message_id" json:"messageId"`
	ReadAt    time.Time `bson:"read_at" json:"readAt"`
}
