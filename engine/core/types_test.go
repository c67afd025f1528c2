package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Version_And_StoreDir(t *testing.T) {
	t.Run("Should read version from env or fallback", func(t *testing.T) {
		t.Setenv("FLOWFORGE_VERSION", "v1.2.3")
		assert.Equal(t, "v1.2.3", GetVersion())
		os.Unsetenv("FLOWFORGE_VERSION")
		assert.Equal(t, "v0", GetVersion())
	})
	t.Run("Should resolve store dir", func(t *testing.T) {
		assert.Equal(t, ".flowforge", GetStoreDir(""))
		base := t.TempDir()
		assert.Equal(t, filepath.Join(base, ".flowforge"), GetStoreDir(base))
	})
}

func Test_NodeType(t *testing.T) {
	t.Run("Should validate known node types", func(t *testing.T) {
		assert.True(t, NodeTrigger.IsValid())
		assert.True(t, NodeAIAgent.IsValid())
		assert.True(t, NodeMemory.IsValid())
		assert.False(t, NodeType("BOGUS").IsValid())
		assert.Equal(t, "ACTION", NodeAction.String())
	})
	t.Run("Should identify attachable node types", func(t *testing.T) {
		assert.True(t, NodeTool.IsAttachable())
		assert.True(t, NodeMemory.IsAttachable())
		assert.False(t, NodeAIAgent.IsAttachable())
		assert.False(t, NodeAction.IsAttachable())
	})
}

func Test_ExecutionStatus(t *testing.T) {
	t.Run("Should validate and classify terminal statuses", func(t *testing.T) {
		assert.True(t, ExecutionNew.IsValid())
		assert.False(t, ExecutionStatus("X").IsValid())
		assert.False(t, ExecutionRunning.IsTerminal())
		assert.False(t, ExecutionWaiting.IsTerminal())
		assert.True(t, ExecutionSuccess.IsTerminal())
		assert.True(t, ExecutionError.IsTerminal())
		assert.True(t, ExecutionCanceled.IsTerminal())
		assert.False(t, ExecutionPaused.IsTerminal())
	})
}

func Test_NodeExecutionStatus(t *testing.T) {
	t.Run("Should validate and classify terminal statuses", func(t *testing.T) {
		assert.True(t, NodeExecPending.IsValid())
		assert.False(t, NodeExecutionStatus("X").IsValid())
		assert.False(t, NodeExecRunning.IsTerminal())
		assert.False(t, NodeExecWaitingHuman.IsTerminal())
		assert.True(t, NodeExecSuccess.IsTerminal())
		assert.True(t, NodeExecError.IsTerminal())
		assert.True(t, NodeExecCanceled.IsTerminal())
		assert.True(t, NodeExecSkipped.IsTerminal())
	})
}

func Test_ExecutionMode(t *testing.T) {
	t.Run("Should validate known modes", func(t *testing.T) {
		assert.True(t, ModeManual.IsValid())
		assert.True(t, ModeScheduled.IsValid())
		assert.False(t, ExecutionMode("BOGUS").IsValid())
	})
}

func Test_ErrorPolicy(t *testing.T) {
	t.Run("Should validate known policies and expose a default", func(t *testing.T) {
		assert.True(t, PolicyStopOnError.IsValid())
		assert.True(t, PolicyContinueRegularOutput.IsValid())
		assert.True(t, PolicyContinueErrorOutput.IsValid())
		assert.False(t, ErrorPolicy("BOGUS").IsValid())
		assert.Equal(t, PolicyStopOnError, DefaultErrorPolicy)
	})
}
