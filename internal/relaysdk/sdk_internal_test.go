package relaysdk

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confsync/confsync/internal/resilience"
)

func TestIsDevURL(t *testing.T) {
	assert.True(t, isDevURL("http://localhost:8080"))
	assert.True(t, isDevURL("http://127.0.0.1:8080"))
	assert.True(t, isDevURL("http://0.0.0.0:8080"))
	assert.False(t, isDevURL("https://relay.confsync.net"))
}

func TestAuthRequired_EnvOverride(t *testing.T) {
	t.Setenv("CONFSYNC_AUTH_ENABLED", "false")
	assert.False(t, AuthRequired("https://relay.confsync.net"))

	t.Setenv("CONFSYNC_AUTH_ENABLED", "true")
	assert.True(t, AuthRequired("https://relay.confsync.net"))

	// When unset, dev URLs run open.
	_ = os.Unsetenv("CONFSYNC_AUTH_ENABLED")
	assert.False(t, AuthRequired("http://127.0.0.1:8080"))
	assert.True(t, AuthRequired("https://relay.confsync.net"))
}

func TestToWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/v1/events", toWebsocketURL("http://localhost:8080/api/v1/events"))
	assert.Equal(t, "wss://relay.confsync.net/api/v1/events", toWebsocketURL("https://relay.confsync.net/api/v1/events"))
	assert.Equal(t, "ws://already", toWebsocketURL("ws://already"))
}

func TestAPIErrorTransient(t *testing.T) {
	transient := []string{CodeInternalError, CodeRateLimited, CodeSyncReportFailed, CodeChunkPutFailed}
	for _, code := range transient {
		assert.True(t, NewAPIError(code, "boom").Transient(), code)
	}

	permanent := []string{CodeInvalidRequest, CodeAccessDenied, CodeChunkNotFound, CodeContentInvalid, CodeConflictNotFound}
	for _, code := range permanent {
		assert.False(t, NewAPIError(code, "no").Transient(), code)
	}
}

func TestAPIErrorClassifiesThroughWrapping(t *testing.T) {
	// wrapped the way handleAPIError wraps, so retry loops can still see it
	err := fmt.Errorf("sync report %w", NewAPIError(CodeInternalError, "boom"))
	assert.True(t, resilience.IsTransient(err))

	err = fmt.Errorf("chunk download %w", NewAPIError(CodeChunkNotFound, "missing"))
	assert.False(t, resilience.IsTransient(err))
}
