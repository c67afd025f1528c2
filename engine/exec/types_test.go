package exec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/engine/core"
)

func Test_Execution_Lifecycle(t *testing.T) {
	t.Run("Should transition NEW to RUNNING on Start", func(t *testing.T) {
		e := NewExecution("exec-1", "wf-1", core.ModeManual, "user-1", nil)
		assert.Equal(t, core.ExecutionNew, e.StatusSnapshot())
		e.Start(time.Now())
		assert.Equal(t, core.ExecutionRunning, e.StatusSnapshot())
	})
	t.Run("Should record EndTime only on terminal Finish", func(t *testing.T) {
		e := NewExecution("exec-1", "wf-1", core.ModeManual, "user-1", nil)
		e.Start(time.Now())
		e.SetStatus(core.ExecutionWaiting)
		assert.Nil(t, e.EndTime)
		e.Finish(core.ExecutionSuccess, time.Now(), nil)
		require.NotNil(t, e.EndTime)
	})
}

func Test_Execution_Sequence_Ordering(t *testing.T) {
	t.Run("Should order by ended_at then started_at then node_id", func(t *testing.T) {
		e := NewExecution("exec-1", "wf-1", core.ModeManual, "", nil)
		base := time.Now()
		later := base.Add(time.Second)
		earlier := base.Add(-time.Second)

		neB := &NodeExecution{ID: "b", NodeID: "b", StartedAt: &base, EndedAt: &later}
		neA := &NodeExecution{ID: "a", NodeID: "a", StartedAt: &base, EndedAt: &earlier}
		e.PutNodeExecution(neB)
		e.PutNodeExecution(neA)
		e.AppendSequence("b")
		e.AppendSequence("a")

		assert.Equal(t, []string{"a", "b"}, e.ExecutionSequence)
	})
	t.Run("Should break ties by node_id when ended_at is equal", func(t *testing.T) {
		e := NewExecution("exec-1", "wf-1", core.ModeManual, "", nil)
		now := time.Now()
		e.PutNodeExecution(&NodeExecution{ID: "z", NodeID: "z", StartedAt: &now, EndedAt: &now})
		e.PutNodeExecution(&NodeExecution{ID: "a", NodeID: "a", StartedAt: &now, EndedAt: &now})
		e.AppendSequence("z")
		e.AppendSequence("a")
		assert.Equal(t, []string{"a", "z"}, e.ExecutionSequence)
	})
}

func Test_Execution_PendingInputs_Conflict(t *testing.T) {
	t.Run("Should report overwrite for last-writer-wins conflicts", func(t *testing.T) {
		e := NewExecution("exec-1", "wf-1", core.ModeManual, "", nil)
		assert.False(t, e.MergePendingInput("n2", "x", 1))
		assert.True(t, e.MergePendingInput("n2", "x", 2))
		assert.Equal(t, map[string]any{"x": 2}, e.PendingInputSnapshot("n2"))
	})
}

func Test_ResumeToken_Expiry(t *testing.T) {
	t.Run("Should report expired tokens relative to now", func(t *testing.T) {
		tok := &ResumeToken{ExpiresAt: time.Now().Add(-time.Minute)}
		assert.True(t, tok.IsExpired(time.Now()))
		tok2 := &ResumeToken{ExpiresAt: time.Now().Add(time.Minute)}
		assert.False(t, tok2.IsExpired(time.Now()))
	})
}

func Test_Execution_Clone_RoundTrip(t *testing.T) {
	t.Run("Should deep copy node executions and pending inputs", func(t *testing.T) {
		e := NewExecution("exec-1", "wf-1", core.ModeManual, "", nil)
		e.PutNodeExecution(&NodeExecution{ID: "a", NodeID: "a", Status: core.NodeExecSuccess})
		e.MergePendingInput("b", "x", 1)

		clone, err := e.Clone()
		require.NoError(t, err)
		clone.NodeExecutions["a"].Status = core.NodeExecError
		clone.PendingInputs["b"]["x"] = 2

		assert.Equal(t, core.NodeExecSuccess, e.NodeExecutions["a"].Status)
		assert.Equal(t, 1, e.PendingInputs["b"]["x"])
	})
}

func Test_ErrorKind_IsRetryable(t *testing.T) {
	t.Run("Should classify retryable kinds per the error table", func(t *testing.T) {
		assert.True(t, KindNetwork.IsRetryable())
		assert.True(t, KindRateLimit.IsRetryable())
		assert.True(t, KindModelError.IsRetryable())
		assert.False(t, KindAuth.IsRetryable())
		assert.False(t, KindValidationConfig.IsRetryable())
	})
}
