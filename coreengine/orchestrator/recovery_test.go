package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
)

func TestSafeInvoke_Success(t *testing.T) {
	called := false
	err := safeInvoke(observability.NopLogger{}, "test_operation", func() { called = true })

	assert.NoError(t, err)
	assert.True(t, called)
}

func TestSafeInvoke_Nil(t *testing.T) {
	assert.NoError(t, safeInvoke(observability.NopLogger{}, "noop", nil))
}

func TestSafeInvoke_Panic(t *testing.T) {
	err := safeInvoke(observability.NopLogger{}, "on_success", func() { panic("boom") })

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panic in on_success")
	assert.Contains(t, err.Error(), "boom")
}
