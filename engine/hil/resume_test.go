package hil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/engine/core"
	"github.com/flowforge/engine/engine/exec"
	"github.com/flowforge/engine/engine/persistence"
	"github.com/flowforge/engine/engine/persistence/memory"
)

type recordedResume struct {
	executionID string
	nodeID      string
	output      core.Output
}

type fakeResumer struct {
	resumes []recordedResume
}

func (f *fakeResumer) Resume(_ context.Context, _ persistence.Lease, executionID, nodeID string, output core.Output) error {
	f.resumes = append(f.resumes, recordedResume{executionID, nodeID, output})
	return nil
}

func setupResume(t *testing.T) (*ResumeManager, *memory.Store, *fakeResumer) {
	t.Helper()
	store := memory.NewStore(fixedNow)
	locks := memory.NewLockManager(fixedNow)
	resumer := &fakeResumer{}
	mgr := NewResumeManager(store, locks, KeywordClassifier{}, resumer, ResumeManagerConfig{
		Now: fixedNow, BusyRetries: 1, BusyInterval: time.Millisecond,
	})

	// A paused execution with a WAITING_HUMAN node and its token.
	e := exec.NewExecution(core.ID("exec-1"), core.ID("wf-1"), core.ModeManual, "u1", nil)
	e.Start(fixedNow())
	ne := exec.NewNodeExecution("approval", 0)
	ne.Status = core.NodeExecWaitingHuman
	started := fixedNow()
	ne.StartedAt = &started
	ne.InputSnapshot = core.Input{"service": "billing"}
	e.PutNodeExecution(ne)
	e.SetStatus(core.ExecutionWaiting)
	require.NoError(t, store.SaveExecution(t.Context(), e))
	require.NoError(t, store.StoreResumeToken(t.Context(), &exec.ResumeToken{
		Token:       "tok-1",
		ExecutionID: "exec-1",
		NodeID:      "approval",
		Channel:     "SLACK",
		IssuedAt:    fixedNow(),
		ExpiresAt:   fixedNow().Add(time.Hour),
	}))
	return mgr, store, resumer
}

func TestDeliverResume(t *testing.T) {
	t.Run("Should classify and re-enter the scheduler", func(t *testing.T) {
		mgr, _, resumer := setupResume(t)
		cerr := mgr.DeliverResume(t.Context(), "tok-1", map[string]any{"text": "yes"})
		require.Nil(t, cerr)
		require.Len(t, resumer.resumes, 1)
		r := resumer.resumes[0]
		assert.Equal(t, "exec-1", r.executionID)
		assert.Equal(t, "approval", r.nodeID)
		assert.Equal(t, ClassConfirmed, r.output["ai_classification"])
		assert.Equal(t, "yes", r.output["user_response"])
		assert.Equal(t, map[string]any{"service": "billing"}, r.output[ClassConfirmed])
	})

	t.Run("Should report RESUME_STALE on second delivery", func(t *testing.T) {
		mgr, _, _ := setupResume(t)
		require.Nil(t, mgr.DeliverResume(t.Context(), "tok-1", map[string]any{"text": "yes"}))
		cerr := mgr.DeliverResume(t.Context(), "tok-1", map[string]any{"text": "yes"})
		require.NotNil(t, cerr)
		assert.Equal(t, string(exec.KindResumeStale), cerr.Code)
	})

	t.Run("Should report RESUME_STALE for unknown tokens", func(t *testing.T) {
		mgr, _, _ := setupResume(t)
		cerr := mgr.DeliverResume(t.Context(), "ghost", nil)
		require.NotNil(t, cerr)
		assert.Equal(t, string(exec.KindResumeStale), cerr.Code)
	})

	t.Run("Should report RESUME_STALE when the node is not waiting", func(t *testing.T) {
		mgr, store, resumer := setupResume(t)
		e, err := store.LoadExecution(t.Context(), core.ID("exec-1"))
		require.NoError(t, err)
		ne := e.LatestAttempt("approval")
		ne.Status = core.NodeExecSuccess
		require.NoError(t, store.SaveExecution(t.Context(), e))

		cerr := mgr.DeliverResume(t.Context(), "tok-1", map[string]any{"text": "yes"})
		require.NotNil(t, cerr)
		assert.Equal(t, string(exec.KindResumeStale), cerr.Code)
		assert.Empty(t, resumer.resumes)
	})

	t.Run("Should report RESUME_BUSY when the lease stays held", func(t *testing.T) {
		mgr, _, _ := setupResume(t)
		locks := memory.NewLockManager(fixedNow)
		held, err := locks.LockExecution(t.Context(), "exec-1", time.Hour)
		require.NoError(t, err)
		defer func() { _ = held.Release(context.Background()) }()
		mgr.locks = locks

		cerr := mgr.DeliverResume(t.Context(), "tok-1", map[string]any{"text": "yes"})
		require.NotNil(t, cerr)
		assert.Equal(t, string(exec.KindResumeBusy), cerr.Code)
	})
}
