package hil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/flowforge/engine/engine/core"
	"github.com/flowforge/engine/engine/exec"
	"github.com/flowforge/engine/engine/persistence"
	"github.com/flowforge/engine/pkg/logger"
)

// Resumer re-enters the scheduler for a paused execution. The lease passed
// in is already held by the resume layer; the implementation must not
// release it.
type Resumer interface {
	Resume(ctx context.Context, lease persistence.Lease, executionID, nodeID string, output core.Output) error
}

// ResumeManager owns resume-token delivery: atomic consumption, lease
// acquisition, staleness checks, reply classification, and scheduler
// re-entry.
type ResumeManager struct {
	store      persistence.Store
	locks      persistence.LockManager
	classifier Classifier
	resumer    Resumer

	leaseTTL     time.Duration
	busyRetries  uint64
	busyInterval time.Duration
	now          func() time.Time
}

// ResumeManagerConfig tunes the manager.
type ResumeManagerConfig struct {
	LeaseTTL     time.Duration
	BusyRetries  uint64
	BusyInterval time.Duration
	Now          func() time.Time
}

// NewResumeManager wires the manager.
func NewResumeManager(store persistence.Store, locks persistence.LockManager, classifier Classifier, resumer Resumer, cfg ResumeManagerConfig) *ResumeManager {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.BusyRetries == 0 {
		cfg.BusyRetries = 5
	}
	if cfg.BusyInterval <= 0 {
		cfg.BusyInterval = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return &ResumeManager{
		store:        store,
		locks:        locks,
		classifier:   classifier,
		resumer:      resumer,
		leaseTTL:     cfg.LeaseTTL,
		busyRetries:  cfg.BusyRetries,
		busyInterval: cfg.BusyInterval,
		now:          cfg.Now,
	}
}

// DeliverResume processes one external resume event.
func (m *ResumeManager) DeliverResume(ctx context.Context, token string, payload map[string]any) *core.Error {
	log := logger.FromContext(ctx)

	tok, err := m.store.ConsumeResumeToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrTokenConsumed),
			errors.Is(err, persistence.ErrNotFound),
			errors.Is(err, persistence.ErrTokenExpired):
			return core.NewError(err, string(exec.KindResumeStale), map[string]any{"token": token})
		default:
			return core.NewError(err, string(exec.KindUnknown), nil)
		}
	}

	lease, err := m.acquireLease(ctx, tok.ExecutionID)
	if err != nil {
		return core.NewError(err, string(exec.KindResumeBusy), map[string]any{
			"execution_id": tok.ExecutionID,
		})
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Warn("Failed to release resume lease", "execution_id", tok.ExecutionID, "error", releaseErr)
		}
	}()

	execution, err := m.store.LoadExecution(ctx, core.ID(tok.ExecutionID))
	if err != nil {
		return core.NewError(err, string(exec.KindResumeStale), map[string]any{
			"execution_id": tok.ExecutionID,
		})
	}
	waiting := execution.LatestAttempt(tok.NodeID)
	if waiting == nil || waiting.Status != core.NodeExecWaitingHuman {
		return core.NewError(
			fmt.Errorf("node %q is not waiting for human input", tok.NodeID),
			string(exec.KindResumeStale),
			map[string]any{"execution_id": tok.ExecutionID, "node_id": tok.NodeID},
		)
	}

	classification, userResponse, err := m.classifier.Classify(ctx, payload)
	if err != nil {
		return core.NewError(err, string(exec.KindUnknown), nil)
	}
	nodeInput := map[string]any(waiting.InputSnapshot)
	output := ResumeOutput(classification, userResponse, nodeInput)

	if err := m.resumer.Resume(ctx, lease, tok.ExecutionID, tok.NodeID, output); err != nil {
		return core.NewError(err, string(exec.KindUnknown), map[string]any{
			"execution_id": tok.ExecutionID,
		})
	}
	log.Info("Resume delivered",
		"execution_id", tok.ExecutionID,
		"node_id", tok.NodeID,
		"classification", classification,
	)
	return nil
}

// acquireLease retries briefly while another holder drains, then gives up
// so the caller can surface RESUME_BUSY.
func (m *ResumeManager) acquireLease(ctx context.Context, executionID string) (persistence.Lease, error) {
	var lease persistence.Lease
	backoff := retry.WithMaxRetries(m.busyRetries, retry.NewConstant(m.busyInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var acquireErr error
		lease, acquireErr = m.locks.LockExecution(ctx, executionID, m.leaseTTL)
		if acquireErr != nil {
			if errors.Is(acquireErr, persistence.ErrLeaseHeld) {
				return retry.RetryableError(acquireErr)
			}
			return acquireErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}
