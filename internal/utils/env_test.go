package utils_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pcornish/go-tftp/internal/utils"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("TFTP_TEST_ADDR", "10.0.0.1")

	assert.Equal(t, "10.0.0.1", utils.GetEnv[string]("TFTP_TEST_ADDR", "0.0.0.0", false))
	assert.Equal(t, "0.0.0.0", utils.GetEnv[string]("TFTP_TEST_MISSING", "0.0.0.0", false))
}

func TestGetEnvUint(t *testing.T) {
	t.Setenv("TFTP_TEST_RETRIES", "7")

	assert.Equal(t, uint(7), utils.GetEnv[uint]("TFTP_TEST_RETRIES", "5", false))
	assert.Equal(t, uint(5), utils.GetEnv[uint]("TFTP_TEST_MISSING", "5", false))
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("TFTP_TEST_MAX_SIZE", "1048576")

	assert.Equal(t, int64(1048576), utils.GetEnv[int64]("TFTP_TEST_MAX_SIZE", "0", false))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TFTP_TEST_SINGLE_PORT", "true")

	assert.True(t, utils.GetEnv[bool]("TFTP_TEST_SINGLE_PORT", "false", false))
}

func TestGetEnvRequiredMissingPanics(t *testing.T) {
	assert.Panics(t, func() {
		utils.GetEnv[string]("TFTP_TEST_ABSENT", "", true)
	})
}

func TestGetEnvUnparseablePanics(t *testing.T) {
	t.Setenv("TFTP_TEST_RETRIES", "many")

	assert.Panics(t, func() {
		utils.GetEnv[uint]("TFTP_TEST_RETRIES", "5", false)
	})
}
