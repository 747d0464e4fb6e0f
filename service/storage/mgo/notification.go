// Package mgo stores notifications in MongoDB.
package mgo

import (
	"context"
	"time"

	"PPLive/data/database"
	"PPLive/module/live/model"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"
	"PPLive/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type NotificationTable struct {
	coll *mongo.Collection
	now  func() time.Time
}

var (
	_ repo.NotificationStore = (*NotificationTable)(nil)
	_ database.Table         = (*NotificationTable)(nil)
)

func NewNotificationTable(db *mongo.Database) *NotificationTable {
	return &NotificationTable{coll: db.Collection(model.NotificationTableName), now: time.Now}
}

func (t *NotificationTable) GetTableName() string          { return model.NotificationTableName }
func (t *NotificationTable) Collection() *mongo.Collection { return t.coll }

// EnsureIndexes creates the id index and the unread listing index.
func (t *NotificationTable) EnsureIndexes(ctx context.Context) error {
	_, err := t.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "notification_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "read_at", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "create notification indexes")
	}
	return nil
}

func (t *NotificationTable) CreateNotification(ctx context.Context, userID, typ, title, content, url, actorID string) (string, error) {
	if userID == "" {
		return "", errs.ErrArgs.WrapMsg("empty user id")
	}
	n := &model.Notification{
		ID:        ids.GenerateString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Content:   content,
		URL:       url,
		ActorID:   actorID,
		CreatedAt: t.now().UTC(),
	}
	if _, err := t.coll.InsertOne(ctx, n); err != nil {
		return "", errs.WrapMsg(err, "insert notification", "user", userID)
	}
	return n.ID, nil
}

// ListUnread returns newest first.
func (t *NotificationTable) ListUnread(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	filter := bson.M{"user_id": userID, "read_at": bson.M{"$exists": false}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(repo.ClampLimit(limit)))
	cur, err := t.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find unread", "user", userID)
	}
	defer cur.Close(ctx)

	out := make([]*model.Notification, 0, 16)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode unread", "user", userID)
	}
	return out, nil
}

// MarkNotificationRead keeps the first read time; marking twice is not an error.
func (t *NotificationTable) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := t.coll.UpdateOne(ctx,
		bson.M{"notification_id": id, "user_id": userID, "read_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"read_at": t.now().UTC()}},
	)
	if err != nil {
		return errs.WrapMsg(err, "mark notification read", "id", id)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := t.coll.CountDocuments(ctx, bson.M{"notification_id": id, "user_id": userID})
	if err != nil {
		return errs.WrapMsg(err, "count notification", "id", id)
	}
	if n == 0 {
		return errs.ErrRecordNotFound.WrapMsg("notification", "user", userID, "id", id)
	}
	return nil
}
