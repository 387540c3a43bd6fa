package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvIntOrDefault_UsesDefaultWhenUnset(t *testing.T) {
	t.Setenv("BACKUPD_TEST_INT_UNSET", "")
	assert.Equal(t, 42, envIntOrDefault("BACKUPD_TEST_INT_UNSET", 42))
}

func TestEnvIntOrDefault_ParsesSetValue(t *testing.T) {
	t.Setenv("BACKUPD_TEST_INT_SET", "17")
	assert.Equal(t, 17, envIntOrDefault("BACKUPD_TEST_INT_SET", 42))
}

func TestEnvIntOrDefault_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("BACKUPD_TEST_INT_GARBAGE", "not-a-number")
	assert.Equal(t, 42, envIntOrDefault("BACKUPD_TEST_INT_GARBAGE", 42))
}

func TestEnvInt64OrDefault_ParsesSetValue(t *testing.T) {
	t.Setenv("BACKUPD_TEST_INT64_SET", "1073741824")
	assert.Equal(t, int64(1073741824), envInt64OrDefault("BACKUPD_TEST_INT64_SET", 42))
}

func TestEnvFloatOrDefault_ParsesSetValue(t *testing.T) {
	t.Setenv("BACKUPD_TEST_FLOAT_SET", "92.5")
	assert.Equal(t, 92.5, envFloatOrDefault("BACKUPD_TEST_FLOAT_SET", 80))
}

func TestEnvFloatOrDefault_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("BACKUPD_TEST_FLOAT_GARBAGE", "not-a-float")
	assert.Equal(t, 80.0, envFloatOrDefault("BACKUPD_TEST_FLOAT_GARBAGE", 80))
}

func TestEnvDurationOrDefault_ParsesSetValue(t *testing.T) {
	t.Setenv("BACKUPD_TEST_DURATION_SET", "90s")
	assert.Equal(t, 90*time.Second, envDurationOrDefault("BACKUPD_TEST_DURATION_SET", time.Minute))
}

func TestEnvDurationOrDefault_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("BACKUPD_TEST_DURATION_GARBAGE", "not-a-duration")
	assert.Equal(t, time.Minute, envDurationOrDefault("BACKUPD_TEST_DURATION_GARBAGE", time.Minute))
}

func TestRequireMasterKey_ErrorsWhenEmpty(t *testing.T) {
	err := requireMasterKey(&cliConfig{})
	assert.Error(t, err)
}

func TestRequireMasterKey_PassesWhenSet(t *testing.T) {
	err := requireMasterKey(&cliConfig{masterKey: "secret"})
	assert.NoError(t, err)
}
