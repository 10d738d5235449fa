package gcp

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PREVIEW_TEST_STR", "value")
	t.Setenv("PREVIEW_TEST_INT", "12")
	t.Setenv("PREVIEW_TEST_BAD_INT", "twelve")
	t.Setenv("PREVIEW_TEST_BOOL", "true")
	t.Setenv("PREVIEW_TEST_DUR", "90s")

	assert.Equal(t, "value", GetEnv("PREVIEW_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnv("PREVIEW_TEST_MISSING", "fallback"))
	assert.Equal(t, 12, GetEnvInt("PREVIEW_TEST_INT", 3))
	assert.Equal(t, 3, GetEnvInt("PREVIEW_TEST_BAD_INT", 3))
	assert.True(t, GetEnvBool("PREVIEW_TEST_BOOL", false))
	assert.False(t, GetEnvBool("PREVIEW_TEST_MISSING", false))
	assert.Equal(t, 90*time.Second, GetEnvDuration("PREVIEW_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("PREVIEW_TEST_MISSING", time.Second))
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.False(t, IsPreconditionFailed(nil))
	assert.False(t, IsPreconditionFailed(assert.AnError))
	assert.False(t, IsPreconditionFailed(&googleapi.Error{Code: http.StatusNotFound}))
	assert.True(t, IsPreconditionFailed(&googleapi.Error{Code: http.StatusPreconditionFailed}))
	assert.True(t, IsPreconditionFailed(fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})))
}
