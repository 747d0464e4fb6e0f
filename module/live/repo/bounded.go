package repo

import (
	"context"
	"time"

	"PPLive/module/live/model"
	"PPLive/tools/errs"
	"PPLive/tools/safe"
)

const DefaultTimeout = 10 * time.Second

// Do runs fn with a deadline. The call is abandoned, not awaited, once the
// deadline passes, so a store that ignores ctx still cannot hang the caller.
// Errors without a code become errs.ErrPersistence.
func Do[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	safe.SafeGo(func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	})

	var zero T
	select {
	case r := <-ch:
		if r.err != nil {
			return zero, classify(cctx, op, r.err)
		}
		return r.v, nil
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, errs.WrapMsg(ctx.Err(), "store call canceled", "op", op)
		}
		return zero, errs.ErrTimeout.WrapMsg("store call timed out", "op", op, "timeout", timeout)
	}
}

func classify(ctx context.Context, op string, err error) error {
	if errs.Code(err) != 0 {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errs.ErrTimeout.WrapMsg(err.Error(), "op", op)
	}
	return errs.ErrPersistence.WrapMsg(err.Error(), "op", op)
}

func do0(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, timeout, op, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

type bounded struct {
	s       Store
	timeout time.Duration
}

// Bounded wraps s so that every call is limited to timeout.
func Bounded(s Store, timeout time.Duration) Store {
	if b, ok := s.(*bounded); ok && b.timeout == timeout {
		return b
	}
	return &bounded{s: s, timeout: timeout}
}

func (b *bounded) CreateSession(ctx context.Context, id, hostID, title string) (*model.Session, error) {
	return Do(ctx, b.timeout, "CreateSession", func(c context.Context) (*model.Session, error) {
		return b.s.CreateSession(c, id, hostID, title)
	})
}

func (b *bounded) EndSession(ctx context.Context, id string) error {
	return do0(ctx, b.timeout, "EndSession", func(c context.Context) error { return b.s.EndSession(c, id) })
}

func (b *bounded) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return Do(ctx, b.timeout, "GetSession", func(c context.Context) (*model.Session, error) {
		return b.s.GetSession(c, id)
	})
}

func (b *bounded) UpsertParticipant(ctx context.Context, sessionID, userID, displayName string, role model.Role) (*model.Participant, error) {
	return Do(ctx, b.timeout, "UpsertParticipant", func(c context.Context) (*model.Participant, error) {
		return b.s.UpsertParticipant(c, sessionID, userID, displayName, role)
	})
}

func (b *bounded) MarkParticipantLeft(ctx context.Context, sessionID, userID string) error {
	return do0(ctx, b.timeout, "MarkParticipantLeft", func(c context.Context) error {
		return b.s.MarkParticipantLeft(c, sessionID, userID)
	})
}

func (b *bounded) ListActiveParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	return Do(ctx, b.timeout, "ListActiveParticipants", func(c context.Context) ([]*model.Participant, error) {
		return b.s.ListActiveParticipants(c, sessionID)
	})
}

func (b *bounded) UpdatePeakParticipants(ctx context.Context, sessionID string, count int) error {
	return do0(ctx, b.timeout, "UpdatePeakParticipants", func(c context.Context) error {
		return b.s.UpdatePeakParticipants(c, sessionID, count)
	})
}

func (b *bounded) AppendMessage(ctx context.Context, sessionID, authorID, content string) (*model.Message, error) {
	return Do(ctx, b.timeout, "AppendMessage", func(c context.Context) (*model.Message, error) {
		return b.s.AppendMessage(c, sessionID, authorID, content)
	})
}

func (b *bounded) AppendReaction(ctx context.Context, sessionID, authorID, emoji string) (*model.Reaction, error) {
	return Do(ctx, b.timeout, "AppendReaction", func(c context.Context) (*model.Reaction, error) {
		return b.s.AppendReaction(c, sessionID, authorID, emoji)
	})
}

func (b *bounded) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]*model.Message, error) {
	return Do(ctx, b.timeout, "ListRecentMessages", func(c context.Context) ([]*model.Message, error) {
		return b.s.ListRecentMessages(c, sessionID, limit)
	})
}

func (b *bounded) DeleteMessage(ctx context.Context, sessionID, messageID, userID string) error {
	return do0(ctx, b.timeout, "DeleteMessage", func(c context.Context) error {
		return b.s.DeleteMessage(c, sessionID, messageID, userID)
	})
}

func (b *bounded) MarkRead(ctx context.Context, sessionID, userID, messageID string) error {
	return do0(ctx, b.timeout, "MarkRead", func(c context.Context) error {
		return b.s.MarkRead(c, sessionID, userID, messageID)
	})
}

type boundedNotifications struct {
	s       NotificationStore
	timeout time.Duration
}

func BoundedNotifications(s NotificationStore, timeout time.Duration) NotificationStore {
	if b, ok := s.(*boundedNotifications); ok && b.timeout == timeout {
		return b
	}
	return &boundedNotifications{s: s, timeout: timeout}
}

func (b *boundedNotifications) CreateNotification(ctx context.Context, userID, typ, title, content, url, actorID string) (string, error) {
	return Do(ctx, b.timeout, "CreateNotification", func(c context.Context) (string, error) {
		return b.s.CreateNotification(c, userID, typ, title, content, url, actorID)
	})
}

func (b *boundedNotifications) ListUnread(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	return Do(ctx, b.timeout, "ListUnread", func(c context.Context) ([]*model.Notification, error) {
		return b.s.ListUnread(c, userID, limit)
	})
}

func (b *boundedNotifications) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return do0(ctx, b.timeout, "MarkNotificationRead", func(c context.Context) error {
		return b.s.MarkNotificationRead(c, userID, id)
	})
}
