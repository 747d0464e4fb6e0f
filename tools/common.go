package tools

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment overrides used by global/config:
// PP_NODE_ID, PP_HTTP_ADDR, PP_GRPC_ADDR, PP_JWT_SECRET, PP_STORE_TIMEOUT,
// PP_EMPTY_GRACE, REDIS_ADDR, PG_DSN, MONGO_URI, NATS_SERVERS, KAFKA_BROKERS,
// NACOS_HOST ...

func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func GetEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

// GetEnvDuration accepts Go duration strings ("10s", "1m30s").
func GetEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetEnvList splits a comma separated value, dropping empty items.
func GetEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	out := make([]string, 0, 4)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
