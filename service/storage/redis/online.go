package redis

import (
	"context"
	"strings"
	"time"

	"PPLive/tools/errs"

	"github.com/redis/go-redis/v9"
)

// OnlineIndex records which node holds each connection of a user. Every user
// has one sorted set: member "<node>|<connID>", score = expiry (unix seconds).
// Expired members are swept lazily by the scripts.
type OnlineIndex struct {
	rdb  redis.Cmdable
	node string
	ttl  time.Duration
	now  func() time.Time
}

func NewOnlineIndex(rdb redis.Cmdable, node string, ttl time.Duration) *OnlineIndex {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &OnlineIndex{rdb: rdb, node: node, ttl: ttl, now: time.Now}
}

func userKey(userID string) string { return "pp:online:u:" + userID }

func (o *OnlineIndex) member(connID string) string { return o.node + "|" + connID }

// 登记/续期一个连接
// KEYS[1] = user index key
// ARGV[1] = member
// ARGV[2] = expireAtUnix
// ARGV[3] = ttlSeconds
var onlineScript = redis.NewScript(`
redis.call("ZADD", KEYS[1], tonumber(ARGV[2]), ARGV[1])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]) * 2)
return 1
`)

// 清理过期并返回仍有效的成员
// KEYS[1] = user index key
// ARGV[1] = nowUnix
var activeScript = redis.NewScript(`
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", now)
return redis.call("ZRANGEBYSCORE", userZ, now + 1, "+inf")
`)

func (o *OnlineIndex) Online(ctx context.Context, userID, connID string) error {
	exp := o.now().Add(o.ttl).Unix()
	ttl := int64(o.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	if err := onlineScript.Run(ctx, o.rdb, []string{userKey(userID)}, o.member(connID), exp, ttl).Err(); err != nil {
		return errs.WrapMsg(err, "online index add", "user", userID, "conn", connID)
	}
	return nil
}

// Touch extends the connection's entry; called on every pong.
func (o *OnlineIndex) Touch(ctx context.Context, userID, connID string) error {
	return o.Online(ctx, userID, connID)
}

func (o *OnlineIndex) Offline(ctx context.Context, userID, connID string) error {
	if err := o.rdb.ZRem(ctx, userKey(userID), o.member(connID)).Err(); err != nil {
		return errs.WrapMsg(err, "online index remove", "user", userID, "conn", connID)
	}
	return nil
}

// Conn is one live entry of the index.
type Conn struct {
	Node   string
	ConnID string
}

// Conns returns the unexpired connections of userID on any node.
func (o *OnlineIndex) Conns(ctx context.Context, userID string) ([]Conn, error) {
	res, err := activeScript.Run(ctx, o.rdb, []string{userKey(userID)}, o.now().Unix()).StringSlice()
	if err != nil {
		return nil, errs.WrapMsg(err, "online index list", "user", userID)
	}
	out := make([]Conn, 0, len(res))
	for _, m := range res {
		node, conn, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		out = append(out, Conn{Node: node, ConnID: conn})
	}
	return out, nil
}

func (o *OnlineIndex) IsOnline(ctx context.Context, userID string) (bool, error) {
	conns, err := o.Conns(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}

func (c Conn) String() string { return c.Node + "|" + c.ConnID }
