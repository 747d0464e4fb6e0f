package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PPLive/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMerges(t *testing.T) {
	cfg := Global
	err := Decode([]byte(`
httpAddr: ":9090"
storeTimeout: 3s
emptyGrace: 30
allowedOrigins: "https://a.example,https://b.example"
redis:
  enabled: true
  addr: "10.0.0.1:6379"
kafka:
  brokers: ["k1:9092", "k2:9092"]
`), &cfg)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 30*time.Second, cfg.EmptyGrace)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "10.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Redis.OnlineTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	// untouched keys keep defaults
	assert.Equal(t, Global.GRPCAddr, cfg.GRPCAddr)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cfg := Global
	err := Decode([]byte("httpAddr: [unclosed"), &cfg)
	assert.True(t, errs.Is(err, errs.ErrArgs))
}

func TestLoadFileAndEnv(t *testing.T) {
	old := Current()
	t.Cleanup(func() { set(old) })

	dir := t.TempDir()
	path := filepath.Join(dir, "pplive.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sendQueue: 32\nnodeName: file\n"), 0o600))
	t.Setenv("PP_NODE_NAME", "env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.SendQueue)
	assert.Equal(t, "env", cfg.NodeName)
	assert.Equal(t, "env", Current().NodeName)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Global
	cfg.PongWait = cfg.PingInterval
	assert.True(t, errs.Is(Validate(cfg), errs.ErrArgs))

	cfg = Global
	cfg.JWTSecret = ""
	assert.Error(t, Validate(cfg))
	assert.NoError(t, Validate(Global))
}

func TestApply(t *testing.T) {
	old := Current()
	t.Cleanup(func() { set(old) })

	require.NoError(t, Apply("maxPerUser: 2\n"))
	assert.Equal(t, 2, Current().MaxPerUser)
	assert.Error(t, Apply("sendQueue: 0\n"))
	assert.Equal(t, 2, Current().MaxPerUser)
}
