package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PPLIVE_T_STR", "abc")
	t.Setenv("PPLIVE_T_INT", "42")
	t.Setenv("PPLIVE_T_BAD_INT", "x")
	t.Setenv("PPLIVE_T_BOOL", "YES")
	t.Setenv("PPLIVE_T_DUR", "1500ms")
	t.Setenv("PPLIVE_T_LIST", " a, ,b ")

	assert.Equal(t, "abc", GetEnv("PPLIVE_T_STR", "def"))
	assert.Equal(t, "def", GetEnv("PPLIVE_T_MISSING", "def"))
	assert.Equal(t, 42, GetEnvInt("PPLIVE_T_INT", 1))
	assert.Equal(t, 1, GetEnvInt("PPLIVE_T_BAD_INT", 1))
	assert.True(t, GetEnvBool("PPLIVE_T_BOOL", false))
	assert.Equal(t, 1500*time.Millisecond, GetEnvDuration("PPLIVE_T_DUR", time.Second))
	assert.Equal(t, []string{"a", "b"}, GetEnvList("PPLIVE_T_LIST", nil))
	assert.Equal(t, []string{"z"}, GetEnvList("PPLIVE_T_MISSING", []string{"z"}))
}
