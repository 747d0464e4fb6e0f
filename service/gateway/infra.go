package gateway

import (
	"context"
	"time"

	"PPLive/data/database/mgo/mongoutil"
	"PPLive/global/config"
	"PPLive/logger"
	"PPLive/service/kafka"
	"PPLive/service/nacos"
	"PPLive/service/natsx"
	"PPLive/service/storage/mgo"
	"PPLive/service/storage/pg"
	rediscache "PPLive/service/storage/redis"
	"PPLive/tools/errs"

	"go.uber.org/zap"
)

// Bootstrap connects the infrastructure enabled in cfg and builds the
// gateway on top of it. Anything disabled falls back to in-process parts.
func Bootstrap(ctx context.Context, cfg config.AppConfig) (g *Gateway, err error) {
	var (
		deps    Deps
		closers []func() error
	)
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	if cfg.Postgres.Enabled {
		pool, err := pg.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		store := pg.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		deps.Store = store
		logger.Info("store: postgres")
	}

	if cfg.Redis.Enabled {
		rdb, err := rediscache.NewClient(ctx, rediscache.FromAppConfig(cfg.Redis))
		if err != nil {
			return nil, err
		}
		closers = append(closers, rdb.Close)
		deps.Online = rediscache.NewOnlineIndex(rdb, cfg.NodeName, cfg.Redis.OnlineTTL)
		if deps.Store != nil {
			deps.Store = rediscache.NewRecentCache(deps.Store, rdb, cfg.Redis.RecentLimit, time.Hour)
		}
		logger.Info("redis: online index and recent cache", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Mongo.Enabled {
		cli, err := mongoutil.NewMongoDB(ctx, mongoutil.FromAppConfig(cfg.Mongo))
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() error { return cli.Close(context.Background()) })
		table := mgo.NewNotificationTable(cli.GetDB())
		if err := table.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		deps.Notifications = table
		logger.Info("notifications: mongo", zap.String("database", cfg.Mongo.Database))
	}

	if cfg.Kafka.Enabled {
		kc := kafka.DefaultConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.Topic = cfg.Kafka.Topic
		producer, err := kafka.NewSyncProducer(kc)
		if err != nil {
			return nil, err
		}
		sink := kafka.NewAttendanceSink(producer, kc.Topic, kc.Buffer)
		closers = append(closers, sink.Close)
		deps.Attendance = sink
	}

	g = New(cfg, deps)
	for _, c := range closers {
		g.addCloser(c)
	}
	// from here on g.Close releases them
	closers = nil
	defer func() {
		if err != nil {
			g.Close()
			g = nil
		}
	}()

	if cfg.Nats.Enabled {
		mgr, err := natsx.StartNotifyIngest(ctx, cfg.Nats, cfg.NodeName, g.notifier)
		if err != nil {
			return nil, err
		}
		g.addCloser(mgr.Close)
	}

	if cfg.Nacos.Enabled {
		cli, err := nacos.NewConfigClient(cfg.Nacos)
		if err != nil {
			return nil, err
		}
		w := nacos.NewWatcher(cli, cfg.Nacos.DataID, cfg.Nacos.Group, config.Apply)
		if err := w.Start(ctx); err != nil {
			return nil, errs.WrapMsg(err, "nacos watcher")
		}
	}
	return g, nil
}
