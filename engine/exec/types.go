package exec

import (
	"sort"
	"sync"
	"time"

	"github.com/flowforge/engine/engine/core"
)

// SettingsSnapshot is the frozen copy of a workflow's settings
// an Execution carries so replays are unaffected by later edits to the
// stored workflow definition.
type SettingsSnapshot struct {
	TimeoutSeconds        int             `json:"timeout_seconds,omitempty"`
	Timezone              string          `json:"timezone,omitempty"`
	ErrorPolicy           core.ErrorPolicy `json:"error_policy,omitempty"`
	SaveExecutionProgress bool            `json:"save_execution_progress"`
}

// AttachedKind labels a sub-record of an AI_AGENT's NodeExecution: the
// memory and tool operations performed inside one agent turn.
type AttachedKind string

const (
	AttachedMemoryLoad  AttachedKind = "MEMORY_LOAD"
	AttachedMemoryStore AttachedKind = "MEMORY_STORE"
	AttachedToolList    AttachedKind = "TOOL_LIST"
	AttachedToolInvoke  AttachedKind = "TOOL_INVOKE"
)

// AttachedExecution records one MEMORY/TOOL operation performed inside an
// AI_AGENT turn. Attached executions never appear in
// Execution.ExecutionSequence.
type AttachedExecution struct {
	Kind      AttachedKind `json:"kind"`
	NodeID    string       `json:"node_id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Input     core.Input   `json:"input,omitempty"`
	Output    core.Output  `json:"output,omitempty"`
	Error     *core.Error  `json:"error,omitempty"`
}

// RoutingConflict records a last-writer-wins resolution for a downstream
// input key written by more than one upstream edge in the same execution.
type RoutingConflict struct {
	InputKey    string    `json:"input_key"`
	WinningEdge string    `json:"winning_edge"`
	LosingEdges []string  `json:"losing_edges"`
	At          time.Time `json:"at"`
}

// NodeExecution is one attempt's immutable-once-terminal record for a
// node. Retried nodes create new records sharing NodeID with an
// incremented Attempt.
type NodeExecution struct {
	ID                 string                 `json:"id"`
	NodeID             string                 `json:"node_id"`
	Attempt            int                    `json:"attempt"`
	Status             core.NodeExecutionStatus `json:"status"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	EndedAt            *time.Time             `json:"ended_at,omitempty"`
	InputSnapshot      core.Input             `json:"input_snapshot,omitempty"`
	OutputSnapshot     core.Output            `json:"output_snapshot,omitempty"`
	Error              *core.Error            `json:"error,omitempty"`
	AttachedExecutions []*AttachedExecution   `json:"attached_executions,omitempty"`
	RoutingConflicts   []*RoutingConflict     `json:"routing_conflicts,omitempty"`
}

// IsTerminal reports whether this record is immutable.
func (ne *NodeExecution) IsTerminal() bool {
	return ne != nil && ne.Status.IsTerminal()
}

// NewNodeExecution starts a PENDING record for nodeID at the given attempt.
func NewNodeExecution(nodeID string, attempt int) *NodeExecution {
	return &NodeExecution{
		ID:      nodeExecID(nodeID, attempt),
		NodeID:  nodeID,
		Attempt: attempt,
		Status:  core.NodeExecPending,
	}
}

func nodeExecID(nodeID string, attempt int) string {
	if attempt <= 0 {
		return nodeID
	}
	return nodeID + "#" + itoa(attempt)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ResumeToken is the single-use credential a HIL node issues.
type ResumeToken struct {
	Token       string         `json:"token"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	Channel     string         `json:"channel"`
	IssuedAt    time.Time      `json:"issued_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Correlation map[string]any `json:"correlation,omitempty"`
	Consumed    bool           `json:"consumed"`
}

// IsExpired reports whether now is past the token's deadline.
func (t *ResumeToken) IsExpired(now time.Time) bool {
	return t != nil && !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Execution is a single run of a workflow.
//
// All mutation goes through the methods below, which hold mu for the
// duration of the update; pending inputs and node-execution maps are only
// ever touched under per-execution mutual exclusion.
type Execution struct {
	mu sync.Mutex

	ID         core.ID           `json:"id"`
	WorkflowID core.ID           `json:"workflow_id"`
	Status     core.ExecutionStatus `json:"status"`
	Mode       core.ExecutionMode   `json:"mode"`
	TriggeredBy string           `json:"triggered_by,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	NodeExecutions   map[string]*NodeExecution   `json:"node_executions"`
	PendingInputs    map[string]map[string]any   `json:"pending_inputs"`
	ExecutionSequence []string                   `json:"execution_sequence"`
	ResumeTokens     map[string]*ResumeToken     `json:"resume_tokens"`

	SettingsSnapshot *SettingsSnapshot `json:"settings_snapshot,omitempty"`
	Error            *core.Error       `json:"error,omitempty"`
}

// NewExecution builds a NEW execution for workflowID.
func NewExecution(id, workflowID core.ID, mode core.ExecutionMode, triggeredBy string, settings *SettingsSnapshot) *Execution {
	return &Execution{
		ID:               id,
		WorkflowID:       workflowID,
		Status:           core.ExecutionNew,
		Mode:             mode,
		TriggeredBy:      triggeredBy,
		NodeExecutions:   make(map[string]*NodeExecution),
		PendingInputs:    make(map[string]map[string]any),
		ExecutionSequence: make([]string, 0),
		ResumeTokens:     make(map[string]*ResumeToken),
		SettingsSnapshot: settings,
	}
}

// Start transitions NEW -> RUNNING and records the start time.
func (e *Execution) Start(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != core.ExecutionNew {
		return
	}
	e.Status = core.ExecutionRunning
	e.StartTime = &now
}

// Finish transitions to a terminal (or WAITING) status and records EndTime
// when the status is terminal.
func (e *Execution) Finish(status core.ExecutionStatus, now time.Time, cause *core.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = status
	if status.IsTerminal() {
		e.EndTime = &now
	}
	if cause != nil {
		e.Error = cause
	}
}

// SetStatus sets the execution status without touching EndTime (used for
// RUNNING<->WAITING transitions).
func (e *Execution) SetStatus(status core.ExecutionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = status
}

// StatusSnapshot returns the current status under lock.
func (e *Execution) StatusSnapshot() core.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status
}

// PutNodeExecution records/replaces a NodeExecution by its (NodeID, Attempt) key.
func (e *Execution) PutNodeExecution(ne *NodeExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NodeExecutions[ne.ID] = ne
}

// GetNodeExecution returns the NodeExecution for id, or nil.
func (e *Execution) GetNodeExecution(id string) *NodeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.NodeExecutions[id]
}

// LatestAttempt returns the highest-Attempt NodeExecution recorded for
// nodeID, or nil if the node has never run.
func (e *Execution) LatestAttempt(nodeID string) *NodeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	var latest *NodeExecution
	for _, ne := range e.NodeExecutions {
		if ne.NodeID != nodeID {
			continue
		}
		if latest == nil || ne.Attempt > latest.Attempt {
			latest = ne
		}
	}
	return latest
}

// AppendSequence appends a completed NodeExecution id to ExecutionSequence
// and re-sorts deterministically by (ended_at, started_at, node_id) so
// parallel completions replay identically.
func (e *Execution) AppendSequence(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ExecutionSequence = append(e.ExecutionSequence, id)
	e.sortSequenceLocked()
}

func (e *Execution) sortSequenceLocked() {
	sort.SliceStable(e.ExecutionSequence, func(i, j int) bool {
		a := e.NodeExecutions[e.ExecutionSequence[i]]
		b := e.NodeExecutions[e.ExecutionSequence[j]]
		if a == nil || b == nil {
			return false
		}
		ae, be := timeOrZero(a.EndedAt), timeOrZero(b.EndedAt)
		if !ae.Equal(be) {
			return ae.Before(be)
		}
		as, bs := timeOrZero(a.StartedAt), timeOrZero(b.StartedAt)
		if !as.Equal(bs) {
			return as.Before(bs)
		}
		return a.NodeID < b.NodeID
	})
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// MergePendingInput merges value into nodeID's pending input map under key,
// returning whether this write overwrote an existing value (used by the
// scheduler to record a RoutingConflict).
func (e *Execution) MergePendingInput(nodeID, key string, value any) (overwrote bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.PendingInputs[nodeID]
	if !ok {
		m = make(map[string]any)
		e.PendingInputs[nodeID] = m
	}
	_, overwrote = m[key]
	m[key] = value
	return overwrote
}

// PendingInputSnapshot returns a shallow copy of nodeID's accumulated input map.
func (e *Execution) PendingInputSnapshot(nodeID string) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return core.CloneMap(e.PendingInputs[nodeID])
}

// PutResumeToken stores a resume token keyed by its HIL node id.
func (e *Execution) PutResumeToken(tok *ResumeToken) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ResumeTokens[tok.NodeID] = tok
}

// ResumeTokenFor returns the resume token issued for nodeID, or nil.
func (e *Execution) ResumeTokenFor(nodeID string) *ResumeToken {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ResumeTokens[nodeID]
}

// Clone returns a deep copy of the execution's observable fields, so
// persisting and reloading round-trips without sharing mutable state.
func (e *Execution) Clone() (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := &Execution{
		ID:               e.ID,
		WorkflowID:       e.WorkflowID,
		Status:           e.Status,
		Mode:             e.Mode,
		TriggeredBy:      e.TriggeredBy,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		NodeExecutions:   make(map[string]*NodeExecution, len(e.NodeExecutions)),
		PendingInputs:    make(map[string]map[string]any, len(e.PendingInputs)),
		ExecutionSequence: append([]string(nil), e.ExecutionSequence...),
		ResumeTokens:     make(map[string]*ResumeToken, len(e.ResumeTokens)),
		SettingsSnapshot: e.SettingsSnapshot,
		Error:            e.Error,
	}
	for k, v := range e.NodeExecutions {
		cp := *v
		out.NodeExecutions[k] = &cp
	}
	for k, v := range e.PendingInputs {
		out.PendingInputs[k] = core.CloneMap(v)
	}
	for k, v := range e.ResumeTokens {
		cp := *v
		out.ResumeTokens[k] = &cp
	}
	return out, nil
}
