package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_STRING", "value")
	assert.Equal(t, "value", GetEnv("TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", GetEnv("TEST_STRING_UNSET", "fallback"))

	t.Setenv("TEST_EMPTY", "")
	assert.Equal(t, "", GetEnv("TEST_EMPTY", "fallback"), "set-but-empty wins over the fallback")
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, GetEnvInt("TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("TEST_INT_UNSET", 7))

	t.Setenv("TEST_INT_BAD", "not a number")
	assert.Equal(t, 7, GetEnvInt("TEST_INT_BAD", 7))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	assert.True(t, GetEnvBool("TEST_BOOL", false))
	assert.False(t, GetEnvBool("TEST_BOOL_UNSET", false))

	t.Setenv("TEST_BOOL_NUMERIC", "1")
	assert.True(t, GetEnvBool("TEST_BOOL_NUMERIC", false))

	t.Setenv("TEST_BOOL_BAD", "yes please")
	assert.True(t, GetEnvBool("TEST_BOOL_BAD", true))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "250ms")
	assert.Equal(t, 250*time.Millisecond, GetEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("TEST_DURATION_UNSET", time.Second))

	t.Setenv("TEST_DURATION_BAD", "eleven")
	assert.Equal(t, time.Second, GetEnvDuration("TEST_DURATION_BAD", time.Second))
}
