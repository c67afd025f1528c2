// Package aiagent runs the unit of work inside an AI_AGENT node: load
// attached memories into an augmented system prompt, advertise attached
// tools, drive bounded model turns with tool round trips, then persist
// memory updates. Every MEMORY/TOOL operation is recorded as a sub-record of
// the owning node execution, never as a frontier node of its own.
package aiagent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"context"

	"github.com/flowforge/engine/engine/core"
	"github.com/flowforge/engine/engine/exec"
	"github.com/flowforge/engine/engine/mcp"
	"github.com/flowforge/engine/engine/memory"
	"github.com/flowforge/engine/engine/provider"
)

// DefaultMaxToolTurns bounds tool round trips when the node's configuration
// does not override it.
const DefaultMaxToolTurns = 8

// FinishMaxToolTurns is reported when the turn budget ran out while the
// model still wanted tools.
const FinishMaxToolTurns = "max_tool_turns"

// AttachedMemory couples a memory store with the node it came from.
type AttachedMemory struct {
	NodeID   string
	Subtype  string
	Store    memory.Store
	ReadOnly bool
}

// AttachedTool couples a tool source with the node it came from.
type AttachedTool struct {
	NodeID string
	Source mcp.ToolSource
}

// Config parameterizes one orchestrator instance.
type Config struct {
	NodeID       string
	SystemPrompt string
	MaxToolTurns int
	Params       core.PromptParams
}

// Result is what an agent execution produces.
type Result struct {
	Output   core.Output
	Attached []*exec.AttachedExecution
}

// Orchestrator owns the attached sub-context of one AI_AGENT node.
type Orchestrator struct {
	cfg      Config
	provider provider.Provider
	memories []AttachedMemory
	tools    []AttachedTool
	now      func() time.Time
}

// New builds an orchestrator. A nil clock selects time.Now.
func New(cfg Config, p provider.Provider, memories []AttachedMemory, tools []AttachedTool, now func() time.Time) *Orchestrator {
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = DefaultMaxToolTurns
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{cfg: cfg, provider: p, memories: memories, tools: tools, now: now}
}

// Run executes the agent's pre-execution, turn loop, and post-execution
// phases against the incoming input.
func (o *Orchestrator) Run(ctx context.Context, input core.Input) (*Result, *core.Error) {
	res := &Result{}

	systemPrompt, cerr := o.loadMemories(ctx, input, res)
	if cerr != nil {
		return res, cerr
	}
	tools, router, cerr := o.listTools(ctx, res)
	if cerr != nil {
		return res, cerr
	}

	userMessage := renderUserMessage(input)
	messages := []provider.Message{{Role: provider.RoleUser, Content: userMessage}}
	req := &provider.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        tools,
		Params:       o.cfg.Params,
	}

	var final *provider.Response
	var allCalls []provider.ToolCall
	usage := provider.Usage{}
	for turn := 0; turn < o.cfg.MaxToolTurns; turn++ {
		resp, callErr := o.provider.Call(ctx, req)
		if callErr != nil {
			return res, callErr
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		usage.TotalTokens += resp.Usage.TotalTokens
		final = resp
		if len(resp.ToolCalls) == 0 {
			break
		}
		allCalls = append(allCalls, resp.ToolCalls...)
		req.Messages = append(req.Messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			req.Messages = append(req.Messages, o.invokeTool(ctx, router, call, res))
		}
		final = nil
	}

	finishReason := FinishMaxToolTurns
	content := ""
	if final != nil {
		finishReason = final.FinishReason
		content = final.Content
	}

	if cerr := o.storeMemories(ctx, userMessage, content, res); cerr != nil {
		return res, cerr
	}

	output := core.Output{
		"result":        content,
		"finish_reason": finishReason,
	}
	if usage.TotalTokens > 0 {
		if m, err := core.AsMapDefault(usage); err == nil {
			output["usage"] = m
		}
	}
	if len(allCalls) > 0 {
		calls := make([]any, 0, len(allCalls))
		for _, c := range allCalls {
			calls = append(calls, map[string]any{"id": c.ID, "name": c.Name, "arguments": c.Arguments})
		}
		output["tool_calls"] = calls
	}
	res.Output = output
	return res, nil
}

// loadMemories runs the pre-execution phase and composes the augmented
// system prompt.
func (o *Orchestrator) loadMemories(ctx context.Context, input core.Input, res *Result) (string, *core.Error) {
	var sb strings.Builder
	sb.WriteString(o.cfg.SystemPrompt)
	for _, m := range o.memories {
		started := o.now()
		memCtx, err := m.Store.Load(ctx, input)
		rec := &exec.AttachedExecution{
			Kind:      exec.AttachedMemoryLoad,
			NodeID:    m.NodeID,
			StartedAt: started,
			EndedAt:   o.now(),
			Input:     input,
		}
		if err != nil {
			rec.Error = core.NewError(err, string(exec.KindUnknown), map[string]any{"memory": m.NodeID})
			res.Attached = append(res.Attached, rec)
			return "", rec.Error
		}
		if snapshot, mapErr := core.AsMapDefault(memCtx); mapErr == nil {
			rec.Output = snapshot
		}
		res.Attached = append(res.Attached, rec)
		appendMemoryContext(&sb, memCtx)
	}
	return sb.String(), nil
}

func appendMemoryContext(sb *strings.Builder, memCtx *memory.Context) {
	if memCtx == nil {
		return
	}
	if len(memCtx.Turns) > 0 {
		sb.WriteString("\n\nPrior conversation:\n")
		for _, t := range memCtx.Turns {
			fmt.Fprintf(sb, "%s: %s\n", t.Role, t.Content)
		}
	}
	if len(memCtx.Entries) > 0 {
		sb.WriteString("\n\nKnown context:\n")
		enc, err := json.Marshal(memCtx.Entries)
		if err == nil {
			sb.Write(enc)
			sb.WriteString("\n")
		}
	}
}

// listTools runs the tool-advertisement phase and returns the provider tool
// specs plus a name router back to the owning source.
func (o *Orchestrator) listTools(ctx context.Context, res *Result) ([]provider.ToolSpec, map[string]AttachedTool, *core.Error) {
	var specs []provider.ToolSpec
	router := make(map[string]AttachedTool)
	for _, t := range o.tools {
		started := o.now()
		tools, err := t.Source.ListTools(ctx)
		rec := &exec.AttachedExecution{
			Kind:      exec.AttachedToolList,
			NodeID:    t.NodeID,
			StartedAt: started,
			EndedAt:   o.now(),
		}
		if err != nil {
			rec.Error = core.NewError(err, string(exec.KindUnknown), map[string]any{"tool": t.NodeID})
			res.Attached = append(res.Attached, rec)
			return nil, nil, rec.Error
		}
		names := make([]any, 0, len(tools))
		for _, tool := range tools {
			specs = append(specs, provider.ToolSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			})
			router[tool.Name] = t
			names = append(names, tool.Name)
		}
		rec.Output = core.Output{"tools": names}
		res.Attached = append(res.Attached, rec)
	}
	return specs, router, nil
}

// invokeTool round-trips one model tool call. Failures are fed back to the
// model as the tool result so it can recover within the turn budget.
func (o *Orchestrator) invokeTool(ctx context.Context, router map[string]AttachedTool, call provider.ToolCall, res *Result) provider.Message {
	started := o.now()
	rec := &exec.AttachedExecution{
		Kind:      exec.AttachedToolInvoke,
		NodeID:    call.Name,
		StartedAt: started,
		Input:     core.NewInput(call.Arguments),
	}
	var content string
	source, ok := router[call.Name]
	if !ok {
		rec.Error = core.NewError(fmt.Errorf("model requested unknown tool %q", call.Name), string(exec.KindResponseError), nil)
		content = rec.Error.Message
	} else {
		rec.NodeID = source.NodeID
		out, err := source.Source.Invoke(ctx, call.Name, call.Arguments)
		if err != nil {
			rec.Error = core.NewError(err, string(exec.KindUnknown), map[string]any{"tool": call.Name})
			content = "tool error: " + err.Error()
		} else {
			rec.Output = core.Output{"result": out}
			if enc, encErr := json.Marshal(out); encErr == nil {
				content = string(enc)
			} else {
				content = fmt.Sprintf("%v", out)
			}
		}
	}
	rec.EndedAt = o.now()
	res.Attached = append(res.Attached, rec)
	return provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    content,
	}
}

// storeMemories runs the post-execution phase.
func (o *Orchestrator) storeMemories(ctx context.Context, userMessage, assistantContent string, res *Result) *core.Error {
	turns := []memory.Turn{
		{Role: provider.RoleUser, Content: userMessage, At: o.now()},
		{Role: provider.RoleAssistant, Content: assistantContent, At: o.now()},
	}
	for _, m := range o.memories {
		if m.ReadOnly {
			continue
		}
		started := o.now()
		err := m.Store.Store(ctx, turns)
		rec := &exec.AttachedExecution{
			Kind:      exec.AttachedMemoryStore,
			NodeID:    m.NodeID,
			StartedAt: started,
			EndedAt:   o.now(),
		}
		if err != nil {
			rec.Error = core.NewError(err, string(exec.KindUnknown), map[string]any{"memory": m.NodeID})
			res.Attached = append(res.Attached, rec)
			return rec.Error
		}
		res.Attached = append(res.Attached, rec)
	}
	return nil
}

// renderUserMessage prefers the declared message input and falls back to the
// JSON form of the whole input map.
func renderUserMessage(input core.Input) string {
	if msg, ok := input["message"].(string); ok && msg != "" {
		return msg
	}
	if len(input) == 0 {
		return ""
	}
	enc, err := json.Marshal(map[string]any(input))
	if err != nil {
		return ""
	}
	return string(enc)
}
