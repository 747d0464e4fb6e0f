package fanout

import (
	"context"

	"PPLive/module/live/model"
)

// Conn is one open server-side connection as the router sees it.
type Conn interface {
	ID() string
	UserID() string
	// Enqueue must not block; false means the queue is full or closed.
	Enqueue(b []byte) bool
	Subscribed(sessionID string) bool
}

// Directory finds the open connections of a user.
type Directory interface {
	ConnsOf(userID string) []Conn
}

// Members is the presence view the router broadcasts to.
type Members interface {
	ListActive(sessionID string) []model.Participant
	Session(sessionID string) (*model.Session, bool)
}

// Target is either a session broadcast or an explicit recipient list.
// SessionID is still set for explicit lists that belong to a conversation so
// that events are persisted and ordered with it.
type Target struct {
	SessionID  string
	Exclude    []string
	Recipients []string
}

func Session(id string, exclude ...string) Target {
	return Target{SessionID: id, Exclude: exclude}
}

func Users(ids ...string) Target {
	return Target{Recipients: ids}
}

func (t Target) explicit() bool { return len(t.Recipients) > 0 }

func (t Target) excluded(userID string) bool {
	for _, u := range t.Exclude {
		if u == userID {
			return true
		}
	}
	return false
}

// DeliveryReport describes one publish. Counts are per connection except
// Recipients and Skipped, which count users.
type DeliveryReport struct {
	Seq        uint64
	Recipients int
	Delivered  int
	Skipped    int
	Dropped    int
	PersistErr error

	Message  *model.Message
	Reaction *model.Reaction
}

// Publisher is what the transport layer depends on.
type Publisher interface {
	Publish(ctx context.Context, env *model.Envelope, target Target) (*DeliveryReport, error)
}
