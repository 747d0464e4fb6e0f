package redis

import (
	"context"
	"strconv"
	"time"

	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/module/live/repo"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RecentCache keeps the newest messages of each session in a Redis stream in
// front of a Store. The Store stays the source of truth: a stream is only read
// once it has been warmed from the Store, and Redis errors fall through to it.
type RecentCache struct {
	repo.Store
	rdb   redis.Cmdable
	limit int64
	ttl   time.Duration
}

func NewRecentCache(inner repo.Store, rdb redis.Cmdable, limit int64, ttl time.Duration) *RecentCache {
	if limit <= 0 {
		limit = repo.DefaultRecentLimit
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RecentCache{Store: inner, rdb: rdb, limit: limit, ttl: ttl}
}

func streamKey(sessionID string) string { return "pp:recent:" + sessionID }
func warmKey(sessionID string) string   { return "pp:recent:" + sessionID + ":warm" }

func (c *RecentCache) AppendMessage(ctx context.Context, sessionID, authorID, content string) (*model.Message, error) {
	m, err := c.Store.AppendMessage(ctx, sessionID, authorID, content)
	if err != nil {
		return nil, err
	}
	warm, rerr := c.rdb.Exists(ctx, warmKey(sessionID)).Result()
	if rerr != nil {
		logger.Warn("recent cache exists", zap.String("session", sessionID), zap.Error(rerr))
		return m, nil
	}
	if warm == 0 {
		return m, nil
	}
	if rerr := c.rdb.XAdd(ctx, c.xadd(m)).Err(); rerr != nil {
		logger.Warn("recent cache append", zap.String("session", sessionID), zap.Error(rerr))
		c.invalidate(ctx, sessionID)
	}
	return m, nil
}

// ListRecentMessages serves from the stream when it is warm and the page fits.
func (c *RecentCache) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]*model.Message, error) {
	limit = repo.ClampLimit(limit)
	if int64(limit) > c.limit {
		return c.Store.ListRecentMessages(ctx, sessionID, limit)
	}
	if out, ok := c.read(ctx, sessionID, limit); ok {
		return out, nil
	}

	all, err := c.Store.ListRecentMessages(ctx, sessionID, int(c.limit))
	if err != nil {
		return nil, err
	}
	c.warm(ctx, sessionID, all)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (c *RecentCache) DeleteMessage(ctx context.Context, sessionID, messageID, userID string) error {
	if err := c.Store.DeleteMessage(ctx, sessionID, messageID, userID); err != nil {
		return err
	}
	c.invalidate(ctx, sessionID)
	return nil
}

func (c *RecentCache) EndSession(ctx context.Context, id string) error {
	if err := c.Store.EndSession(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *RecentCache) read(ctx context.Context, sessionID string, limit int) ([]*model.Message, bool) {
	warm, err := c.rdb.Exists(ctx, warmKey(sessionID)).Result()
	if err != nil {
		logger.Warn("recent cache exists", zap.String("session", sessionID), zap.Error(err))
		return nil, false
	}
	if warm == 0 {
		return nil, false
	}
	xs, err := c.rdb.XRevRangeN(ctx, streamKey(sessionID), "+", "-", int64(limit)).Result()
	if err != nil {
		logger.Warn("recent cache read", zap.String("session", sessionID), zap.Error(err))
		return nil, false
	}
	out := make([]*model.Message, 0, len(xs))
	for i := len(xs) - 1; i >= 0; i-- {
		m, ok := decodeMessage(sessionID, xs[i].Values)
		if !ok {
			c.invalidate(ctx, sessionID)
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

func (c *RecentCache) warm(ctx context.Context, sessionID string, msgs []*model.Message) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, streamKey(sessionID))
		for _, m := range msgs {
			p.XAdd(ctx, c.xadd(m))
		}
		p.Expire(ctx, streamKey(sessionID), c.ttl)
		p.Set(ctx, warmKey(sessionID), "1", c.ttl)
		return nil
	})
	if err != nil {
		logger.Warn("recent cache warm", zap.String("session", sessionID), zap.Error(err))
		c.invalidate(ctx, sessionID)
	}
}

func (c *RecentCache) invalidate(ctx context.Context, sessionID string) {
	if err := c.rdb.Del(ctx, warmKey(sessionID), streamKey(sessionID)).Err(); err != nil {
		logger.Warn("recent cache invalidate", zap.String("session", sessionID), zap.Error(err))
	}
}

func (c *RecentCache) xadd(m *model.Message) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: streamKey(m.SessionID),
		MaxLen: c.limit,
		Approx: false,
		Values: map[string]interface{}{
			"id":      m.ID,
			"author":  m.AuthorID,
			"content": m.Content,
			"ts":      strconv.FormatInt(m.CreatedAt.UnixMilli(), 10),
		},
	}
}

func decodeMessage(sessionID string, v map[string]interface{}) (*model.Message, bool) {
	id, _ := v["id"].(string)
	author, _ := v["author"].(string)
	content, _ := v["content"].(string)
	tsRaw, _ := v["ts"].(string)
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if id == "" || err != nil {
		return nil, false
	}
	return &model.Message{
		ID:        id,
		SessionID: sessionID,
		AuthorID:  author,
		Content:   content,
		CreatedAt: time.UnixMilli(ts),
	}, true
}
