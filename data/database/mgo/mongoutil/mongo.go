package mongoutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PPLive/global/config"
	"PPLive/logger"
	"PPLive/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
	retryInterval      = 500 * time.Millisecond
)

// Config represents the MongoDB configuration.
type Config struct {
	Uri         string
	Address     []string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
	MaxRetry    int
}

// FromAppConfig maps the mongo section of the process config.
func FromAppConfig(c config.MongoConfig) *Config {
	return &Config{
		Uri:         c.URI,
		Database:    c.Database,
		Username:    c.Username,
		Password:    c.Password,
		MaxPoolSize: c.MaxPoolSize,
		MaxRetry:    c.MaxRetry,
	}
}

// ValidateAndSetDefaults validates the configuration and sets default values.
func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.ErrArgs.WrapMsg("either Uri or Address must be provided")
	}
	if c.Database == "" {
		return errs.ErrArgs.WrapMsg("database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri == "" {
		// authSource 缺省为业务库
		authSource := c.AuthSource
		if authSource == "" {
			authSource = c.Database
		}
		c.Uri = buildMongoURI(c, authSource)
	}
	return nil
}

func buildMongoURI(c *Config, authSource string) string {
	credentials := ""
	if c.Username != "" && c.Password != "" {
		credentials = fmt.Sprintf("%s:%s@", c.Username, c.Password)
	}
	return fmt.Sprintf(
		"mongodb://%s%s/%s?authSource=%s&maxPoolSize=%d",
		credentials,
		strings.Join(c.Address, ","),
		c.Database,
		authSource,
		c.MaxPoolSize,
	)
}

// 将 Config 应用到 ClientOptions；单独给出的用户名优先于 URI 中的认证
func applyConfigToOptions(c *Config) *options.ClientOptions {
	opts := options.Client().ApplyURI(c.Uri).SetMaxPoolSize(uint64(c.MaxPoolSize))
	if c.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   c.Username,
			Password:   c.Password,
			AuthSource: c.AuthSource,
		})
	}
	return opts
}

// Client holds a connected mongo client and the business database.
type Client struct {
	cli *mongo.Client
	db  *mongo.Database
}

func (c *Client) GetDB() *mongo.Database { return c.db }

func (c *Client) Close(ctx context.Context) error {
	return c.cli.Disconnect(ctx)
}

// NewMongoDB connects and pings, retrying transient failures up to MaxRetry times.
func NewMongoDB(ctx context.Context, c *Config) (*Client, error) {
	if err := c.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	opts := applyConfigToOptions(c)
	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < c.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err == nil || !shouldRetry(ctx, err) {
			break
		}
		logger.Warn("mongo connect retry", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, errs.WrapMsg(ctx.Err(), "mongo connect canceled")
		case <-time.After(retryInterval):
		}
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "failed to connect to MongoDB", "Database", c.Database)
	}
	return &Client{cli: cli, db: cli.Database(c.Database)}, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// shouldRetry is false for auth failures (codes 13, 18) and a finished ctx.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if cmdErr, ok := err.(mongo.CommandError); ok {
		return cmdErr.Code != 13 && cmdErr.Code != 18
	}
	return true
}
